package imports

import (
	"os"
	"path/filepath"
	"strings"
)

// stdlibNames is the union of sys.stdlib_module_names for CPython 3.10 to 3.13.
var stdlibNames = map[string]bool{}

func init() {
	for _, n := range strings.Fields(`
__future__ _abc _aix_support _ast _asyncio _bisect _blake2 _bootsubprocess _bz2
_codecs _codecs_cn _codecs_hk _codecs_iso2022 _codecs_jp _codecs_kr _codecs_tw
_collections _collections_abc _colorize _compat_pickle _compression _contextvars
_crypt _csv _ctypes _curses _curses_panel _datetime _dbm _decimal _elementtree
_frozen_importlib _frozen_importlib_external _functools _gdbm _hashlib _heapq
_imp _interpchannels _interpqueues _interpreters _io _ios_support _json _locale
_lsprof _lzma _markupbase _md5 _msi _multibytecodec _multiprocessing _opcode
_opcode_metadata _operator _osx_support _overlapped _pickle _posixshmem
_posixsubprocess _py_abc _pydatetime _pydecimal _pyio _pylong _pyrepl _queue
_random _scproxy _sha1 _sha2 _sha256 _sha3 _sha512 _signal _sitebuiltins _socket
_sqlite3 _sre _ssl _stat _statistics _string _strptime _struct _symtable _sysconfig
_thread _threading_local _tkinter _tokenize _tracemalloc _typing _uuid _warnings
_weakref _weakrefset _winapi _wmi _zoneinfo abc aifc antigravity argparse array
ast asynchat asyncio asyncore atexit audioop base64 bdb binascii binhex bisect
builtins bz2 cProfile calendar cgi cgitb chunk cmath cmd code codecs codeop
collections colorsys compileall concurrent configparser contextlib contextvars
copy copyreg crypt csv ctypes curses dataclasses datetime dbm decimal difflib dis
distutils doctest email encodings ensurepip enum errno faulthandler fcntl filecmp
fileinput fnmatch fractions ftplib functools gc genericpath getopt getpass gettext
glob graphlib grp gzip hashlib heapq hmac html http idlelib imaplib imghdr imp
importlib inspect io ipaddress itertools json keyword lib2to3 linecache locale
logging lzma mailbox mailcap marshal math mimetypes mmap modulefinder msilib
msvcrt multiprocessing netrc nis nntplib nt ntpath nturl2path numbers opcode
operator optparse os ossaudiodev pathlib pdb pickle pickletools pipes pkgutil
platform plistlib poplib posix posixpath pprint profile pstats pty pwd py_compile
pyclbr pydoc pydoc_data pyexpat queue quopri random re readline reprlib resource
rlcompleter runpy sched secrets select selectors shelve shlex shutil signal site
smtpd smtplib sndhdr socket socketserver spwd sqlite3 sre_compile sre_constants
sre_parse ssl stat statistics string stringprep struct subprocess sunau symtable
sys sysconfig syslog tabnanny tarfile telnetlib tempfile termios textwrap this
threading time timeit tkinter token tokenize tomllib trace traceback tracemalloc
tty turtle turtledemo types typing unicodedata unittest urllib uu uuid venv
warnings wave weakref webbrowser winreg winsound wsgiref xdrlib xml xmlrpc
zipapp zipfile zipimport zlib zoneinfo
`) {
		stdlibNames[n] = true
	}
}

// IsStdlib reports whether name is a known standard-library top-level module.
func IsStdlib(name string) bool {
	return stdlibNames[name]
}

// Stdlib is the built-in name list extended with names found in a bundled
// standard library directory.
type Stdlib struct {
	extra map[string]bool
}

// NewStdlib scans dirs (typically the stdlib root and lib-dynload) for
// top-level module names. Missing directories are ignored.
func NewStdlib(dirs ...string) Stdlib {
	s := Stdlib{extra: make(map[string]bool)}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			switch {
			case name == "site-packages" || strings.HasPrefix(name, "."):
			case e.IsDir():
				if isIdentifier(name) {
					s.extra[name] = true
				}
			case strings.HasSuffix(name, ".py"):
				s.extra[strings.TrimSuffix(name, ".py")] = true
			default:
				if mod, ok := ExtensionModule(name); ok {
					s.extra[mod] = true
				}
			}
		}
	}
	return s
}

// Contains reports whether name is part of the standard library.
func (s Stdlib) Contains(name string) bool {
	return IsStdlib(name) || s.extra[name]
}

// ExtensionModule returns "_ssl" for "_ssl.cpython-311-x86_64-linux-gnu.so".
// ok is false for files that are not native extension modules.
func ExtensionModule(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".so" && ext != ".pyd" {
		return "", false
	}
	base, _, _ := strings.Cut(name, ".")
	return base, isIdentifier(base)
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentPart(name, i) {
			return false
		}
	}
	return isIdentStart(name, 0)
}
