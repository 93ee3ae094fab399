// Package backend implements the tracepoint backend (spec §4.C): it
// creates and removes kernel instrumentation sites by driving tracefs
// control files, and binds compiled VM programs to them via
// cilium/ebpf's kprobe/uprobe link API.
package backend

import (
	"fmt"
	"os"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/thesamesam/dtrace-utils/internal/config"
	"github.com/thesamesam/dtrace-utils/internal/metricsexporter"
)

// SiteKind distinguishes the two instrumentation-file families a site
// can be created against.
type SiteKind int

const (
	SiteKprobe SiteKind = iota
	SiteUprobe
)

// SiteSpec describes one instrumentation site to create (spec §4.C
// `create`).
type SiteSpec struct {
	Kind     SiteKind
	IsReturn bool

	// Group/Name form the tracefs event name: group/name.
	Group string
	Name  string

	// Kprobe target: a kernel symbol, '.' already rewritten to '_' by
	// the caller for rawfbt sites (spec §4.C naming scheme).
	Symbol string

	// Uprobe target.
	Path   string
	Offset uint64
}

// eventName renders the control-file group/name used both to create and
// to later remove a site (spec §4.C naming scheme):
//
//	dt_pid/{p|r}_<dev>_<inode>_<offset>   for user-space sites
//	<function with '.' -> '_'>            for kernel function boundary sites
func (s SiteSpec) eventName() string {
	return s.Group + "/" + s.Name
}

// Handle is an opaque, backend-created reference to a live instrumentation
// site: the probe graph only carries this, never raw file descriptors.
type Handle struct {
	spec   SiteSpec
	link   link.Link
	closed bool
}

// Controller is the tracepoint backend contract (spec §4.C). All
// operations are idempotent under "already-exists"/"already-gone".
type Controller interface {
	Create(spec SiteSpec) (*Handle, error)
	Attach(h *Handle, prog ProgramLoader) error
	Detach(h *Handle) error
	Destroy(h *Handle) error
}

// ProgramLoader produces the already-compiled and loaded VM program,
// ready to attach to a kprobe/uprobe link. The trampoline/session layers
// own compilation; the backend only attaches.
type ProgramLoader interface {
	LoadedProgram() *ebpf.Program
}

// ErrNotPresent is returned by Create when the control-file write failed
// but a concurrently-created instrumentation point of the same name may
// already exist (spec §4.C "A create failure returns not-present").
type ErrNotPresent struct {
	Spec SiteSpec
	Err  error
}

func (e *ErrNotPresent) Error() string {
	return fmt.Sprintf("tracepoint not present for %s: %v", e.Spec.eventName(), e.Err)
}

func (e *ErrNotPresent) Unwrap() error { return e.Err }

// TraceFSController implements Controller against the real kernel
// instrumentation control files and cilium/ebpf/link.
type TraceFSController struct{}

func NewTraceFSController() *TraceFSController {
	return &TraceFSController{}
}

// Create writes the control-file record creating the instrumentation
// site (spec §4.C `create`).
func (c *TraceFSController) Create(spec SiteSpec) (*Handle, error) {
	record, file := c.createRecord(spec)

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		metricsexporter.RecordTracepointCreateFailure(backendName(spec.Kind), "open-control-file")
		return nil, &ErrNotPresent{Spec: spec, Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(record); err != nil {
		if !isAlreadyExists(err) {
			metricsexporter.RecordTracepointCreateFailure(backendName(spec.Kind), "write-control-file")
			return nil, &ErrNotPresent{Spec: spec, Err: err}
		}
	}

	return &Handle{spec: spec}, nil
}

func (c *TraceFSController) createRecord(spec SiteSpec) (record, file string) {
	prefix := "p"
	if spec.IsReturn {
		prefix = "r"
	}
	switch spec.Kind {
	case SiteKprobe:
		return fmt.Sprintf("%s:%s %s\n", prefix, spec.eventName(), spec.Symbol), config.KprobeEventsFile
	case SiteUprobe:
		return fmt.Sprintf("%s:%s %s:%#x\n", prefix, spec.eventName(), spec.Path, spec.Offset), config.UprobeEventsFile
	default:
		return "", ""
	}
}

// Attach opens the underlying kprobe/kretprobe or uprobe/uretprobe link
// and attaches the compiled program (spec §4.C `attach`).
func (c *TraceFSController) Attach(h *Handle, prog ProgramLoader) error {
	var l link.Link
	var err error

	switch h.spec.Kind {
	case SiteKprobe:
		opts := &link.KprobeOptions{}
		if h.spec.IsReturn {
			l, err = link.Kretprobe(h.spec.Symbol, prog.LoadedProgram(), opts)
		} else {
			l, err = link.Kprobe(h.spec.Symbol, prog.LoadedProgram(), opts)
		}
	case SiteUprobe:
		exe, openErr := link.OpenExecutable(h.spec.Path)
		if openErr != nil {
			return fmt.Errorf("backend: opening executable %s: %w", h.spec.Path, openErr)
		}
		if h.spec.IsReturn {
			l, err = exe.Uretprobe(h.spec.Symbol, prog.LoadedProgram(), &link.UprobeOptions{Address: h.spec.Offset})
		} else {
			l, err = exe.Uprobe(h.spec.Symbol, prog.LoadedProgram(), &link.UprobeOptions{Address: h.spec.Offset})
		}
	default:
		return fmt.Errorf("backend: unknown site kind %d", h.spec.Kind)
	}

	if err != nil {
		metricsexporter.RecordTracepointCreateFailure(backendName(h.spec.Kind), "attach")
		return fmt.Errorf("backend: attach %s: %w", h.spec.eventName(), err)
	}
	h.link = l
	return nil
}

// Detach closes the perf event / link (spec §4.C `detach`).
func (c *TraceFSController) Detach(h *Handle) error {
	if h.link == nil {
		return nil
	}
	err := h.link.Close()
	h.link = nil
	return err
}

// Destroy writes the removal record to the control file (spec §4.C
// `destroy`). Idempotent under "already-gone".
func (c *TraceFSController) Destroy(h *Handle) error {
	if h.closed {
		return nil
	}
	h.closed = true

	_, file := h.spec.eventName(), ""
	switch h.spec.Kind {
	case SiteKprobe:
		file = config.KprobeEventsFile
	case SiteUprobe:
		file = config.UprobeEventsFile
	}

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil // already gone, or tracefs unmounted during teardown
	}
	defer f.Close()

	_, err = f.WriteString(fmt.Sprintf("-:%s\n", h.spec.eventName()))
	if err != nil && !isAlreadyGone(err) {
		return fmt.Errorf("backend: destroy %s: %w", h.spec.eventName(), err)
	}
	return nil
}

func backendName(kind SiteKind) string {
	if kind == SiteKprobe {
		return "kprobe"
	}
	return "uprobe"
}

func isAlreadyExists(err error) bool {
	return strings.Contains(err.Error(), "exist")
}

func isAlreadyGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "ENOENT")
}
