package freeze

import (
	"bytes"
	"encoding/json"
	"errors"
	"runtime"
	"strconv"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/procutil"

	"golang.org/x/sync/errgroup"
)

// Job compiles one source file to Target. DisplayName is the path recorded
// in the compiled file and shown in tracebacks.
type Job struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	DisplayName string `json:"display"`
}

// Compiler turns sources into compiled files. Implementations must be safe
// for concurrent use; each call gets a disjoint set of jobs.
type Compiler interface {
	Compile(jobs []Job, optimizeLevel int) error
}

// InterpreterCompiler compiles with py_compile in a child interpreter, one
// process per call.
type InterpreterCompiler struct {
	Python string
	// Log receives the full child command and output when it fails.
	Log logbowl.Logger
}

const compileScript = `
import json, py_compile, sys
level = int(sys.argv[1])
for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    job = json.loads(line)
    try:
        py_compile.compile(job["source"], cfile=job["target"], dfile=job["display"], doraise=True, optimize=level)
    except py_compile.PyCompileError as exc:
        print(json.dumps({"source": job["source"], "error": exc.msg}))
        sys.exit(1)
    except Exception as exc:
        print(json.dumps({"source": job["source"], "error": repr(exc)}))
        sys.exit(1)
`

type compileFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

func (c InterpreterCompiler) Compile(jobs []Job, optimizeLevel int) error {
	if len(jobs) == 0 {
		return nil
	}
	var stdin bytes.Buffer
	enc := json.NewEncoder(&stdin)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			return swerrors.Wrap(swerrors.KindBuild, err, "failed to encode compile job for %s", job.Source)
		}
	}

	res, err := procutil.Run(procutil.Command{
		Args:  []string{c.Python, "-c", compileScript, strconv.Itoa(optimizeLevel)},
		Stdin: stdin.Bytes(),
	})
	if err == nil {
		return nil
	}
	c.Log.OrNull().Debug("freeze", "compile", "failure", "Compiler process failed", "python", c.Python, "jobs", len(jobs), "error", err)

	// The subprocess error embeds the whole script; keep only its cause.
	cause := errors.Unwrap(err)
	if cause == nil {
		cause = err
	}
	if res != nil {
		lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		var failure compileFailure
		if json.Unmarshal([]byte(lines[len(lines)-1]), &failure) == nil && failure.Source != "" {
			return swerrors.Wrap(swerrors.KindBuild, cause, "failed to compile %s: %s", failure.Source, failure.Error).WithPath(failure.Source)
		}
		if stderr := lastLine(res.Stderr); stderr != "" {
			return swerrors.Wrap(swerrors.KindBuild, cause, "failed to compile %d sources with %s: %s", len(jobs), c.Python, stderr)
		}
	}
	return swerrors.Wrap(swerrors.KindBuild, cause, "failed to compile %d sources with %s", len(jobs), c.Python)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

const poolThreshold = 8

func defaultWorkers() int {
	return min(runtime.NumCPU(), 32)
}

// chunkSize spreads jobs over roughly four chunks per worker, never fewer
// than eight jobs per chunk.
func chunkSize(jobs, workers int) int {
	per := (jobs + workers*4 - 1) / (workers * 4)
	return max(8, per)
}

// compileAll runs small job sets in one call and larger ones in chunks over
// a bounded pool. The first failure is returned; outputs already written by
// other chunks are left in place.
func compileAll(c Compiler, jobs []Job, optimizeLevel, workers int) error {
	if len(jobs) == 0 {
		return nil
	}
	if len(jobs) <= poolThreshold {
		return c.Compile(jobs, optimizeLevel)
	}
	if workers <= 0 {
		workers = defaultWorkers()
	}

	size := chunkSize(len(jobs), workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(jobs); start += size {
		chunk := jobs[start:min(start+size, len(jobs))]
		g.Go(func() error {
			return c.Compile(chunk, optimizeLevel)
		})
	}
	return g.Wait()
}
