// Package command classifies and executes OS commands with severity-based
// gating and an approval queue for risky commands.
package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tomgoeck/Ultracode-sub000/internal/store"
)

// Severity ranks how dangerous a command is.
type Severity string

const (
	// SeverityLow commands run without approval.
	SeverityLow Severity = "low"
	// SeverityMed commands need approval in ask mode.
	SeverityMed Severity = "med"
	// SeverityHigh commands need approval in ask mode.
	SeverityHigh Severity = "high"
)

// SafetyMode selects how med/high severity commands are handled.
type SafetyMode string

const (
	// ModeAsk queues med/high commands for approval.
	ModeAsk SafetyMode = "ask"
	// ModeAuto runs everything that is not blocked.
	ModeAuto SafetyMode = "auto"
)

// Status is the outcome class of a Run call.
type Status string

const (
	// StatusCompleted means the command ran (exit code may still be non-zero).
	StatusCompleted Status = "completed"
	// StatusNeedsApproval means the command was queued pending approval.
	StatusNeedsApproval Status = "needs-approval"
	// StatusBlocked means a deny pattern matched.
	StatusBlocked Status = "blocked"
)

// Policy configures classification. Explicit entries win over patterns,
// patterns win over heuristics.
type Policy struct {
	// Commands maps exact command strings to a severity.
	Commands map[string]Severity `yaml:"commands"`
	// DenyPatterns block any command containing one of them.
	DenyPatterns []string `yaml:"deny_patterns"`
	// AllowPatterns mark matching commands low severity.
	AllowPatterns []string `yaml:"allow_patterns"`
}

// LoadPolicy reads a YAML policy file. A missing file yields an empty policy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return &p, nil
}

// Classification is the result of classifying a command string.
type Classification struct {
	// Severity is the assigned risk level.
	Severity Severity
	// Blocked is set when a deny pattern matched.
	Blocked bool
	// Network marks commands that likely reach the network.
	Network bool
}

// Classify applies the policy and heuristics to cmd.
func (p *Policy) Classify(cmd string) Classification {
	trimmed := strings.TrimSpace(cmd)
	lower := strings.ToLower(trimmed)

	if p != nil {
		if sev, ok := p.Commands[trimmed]; ok {
			return Classification{Severity: sev}
		}
		for _, pat := range p.DenyPatterns {
			if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
				return Classification{Severity: SeverityHigh, Blocked: true}
			}
		}
		for _, pat := range p.AllowPatterns {
			if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
				return Classification{Severity: SeverityLow}
			}
		}
	}

	if strings.Contains(lower, "rm ") || strings.Contains(lower, "sudo") ||
		strings.Contains(lower, "drop database") {
		return Classification{Severity: SeverityHigh}
	}
	if strings.HasPrefix(lower, "curl") || strings.HasPrefix(lower, "wget") ||
		strings.Contains(lower, "http") {
		return Classification{Severity: SeverityMed, Network: true}
	}
	return Classification{Severity: SeverityLow}
}

// Request describes one command execution.
type Request struct {
	// Cmd is the shell command line.
	Cmd string
	// Cwd is the working directory. Empty uses the process cwd.
	Cwd string
	// Timeout bounds execution. Zero means no extra bound beyond ctx.
	Timeout time.Duration
	// Force skips the severity prompt. Set when re-running an approved
	// pending command. Deny-pattern blocks still apply.
	Force bool
	// ProjectID associates queued approvals with a project.
	ProjectID string
	// OnChunk, when set, streams stdout/stderr chunks as they arrive.
	OnChunk func(stream, chunk string)
}

// Result is the outcome of a Run call.
type Result struct {
	// Status classifies the outcome.
	Status Status
	// ApprovalID identifies the queued command when Status is needs-approval.
	ApprovalID string
	// Severity is the classification that was applied.
	Severity Severity
	// Stdout and Stderr hold collected output.
	Stdout string
	Stderr string
	// ExitCode is the command's exit code.
	ExitCode int
	// Err is "exit <code>" for non-zero exits, or an execution error.
	Err string
}

// Runner executes commands under a policy and safety mode. Pending
// approvals are persisted through the store when one is attached.
type Runner struct {
	policy *Policy
	mode   SafetyMode
	store  *store.Store
}

// NewRunner creates a Runner. st may be nil, in which case approvals are
// issued but not persisted.
func NewRunner(policy *Policy, mode SafetyMode, st *store.Store) *Runner {
	if policy == nil {
		policy = &Policy{}
	}
	if mode == "" {
		mode = ModeAsk
	}
	return &Runner{policy: policy, mode: mode, store: st}
}

// Run classifies and executes req.Cmd. Blocked commands never run, force or
// not. In ask mode, med/high commands are queued and returned as
// needs-approval unless req.Force is set.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	cls := r.policy.Classify(req.Cmd)

	if cls.Blocked {
		return &Result{Status: StatusBlocked, Severity: cls.Severity}, nil
	}
	if !req.Force && r.mode == ModeAsk && cls.Severity != SeverityLow {
		id := uuid.NewString()
		if r.store != nil {
			pending := &store.PendingCommand{
				ID:        id,
				ProjectID: req.ProjectID,
				Command:   req.Cmd,
				Cwd:       req.Cwd,
				Severity:  string(cls.Severity),
			}
			if err := r.store.EnqueuePendingCommand(pending); err != nil {
				return nil, fmt.Errorf("queue pending command: %w", err)
			}
		}
		return &Result{Status: StatusNeedsApproval, ApprovalID: id, Severity: cls.Severity}, nil
	}

	return r.execute(ctx, req, cls)
}

// Approve resolves a pending command and re-runs it with force set.
func (r *Runner) Approve(ctx context.Context, approvalID string, onChunk func(stream, chunk string)) (*Result, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no store attached")
	}
	pending, err := r.store.GetPendingCommand(approvalID)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, Request{
		Cmd:       pending.Command,
		Cwd:       pending.Cwd,
		ProjectID: pending.ProjectID,
		Force:     true,
		OnChunk:   onChunk,
	})
	if err != nil {
		return nil, err
	}
	if rerr := r.store.ResolvePendingCommand(approvalID); rerr != nil {
		return res, rerr
	}
	return res, nil
}

// Deny resolves a pending command without running it.
func (r *Runner) Deny(approvalID string) error {
	if r.store == nil {
		return fmt.Errorf("no store attached")
	}
	return r.store.ResolvePendingCommand(approvalID)
}

func (r *Runner) execute(ctx context.Context, req Request, cls Classification) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Cmd)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}

	res := &Result{Status: StatusCompleted, Severity: cls.Severity}

	if req.OnChunk != nil {
		if err := streamCommand(cmd, req.OnChunk, res); err != nil {
			return nil, err
		}
	} else {
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		if err != nil {
			applyRunError(res, err)
		}
	}

	if res.ExitCode != 0 {
		res.Err = fmt.Sprintf("exit %d", res.ExitCode)
	}
	return res, nil
}

// streamCommand runs cmd delivering output line-wise through onChunk while
// also collecting it into res.
func streamCommand(cmd *exec.Cmd, onChunk func(stream, chunk string), res *Result) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	done := make(chan struct{}, 2)
	var outBuf, errBuf strings.Builder
	drain := func(name string, r *bufio.Scanner, buf *strings.Builder) {
		for r.Scan() {
			line := r.Text() + "\n"
			buf.WriteString(line)
			onChunk(name, line)
		}
		done <- struct{}{}
	}
	go drain("stdout", bufio.NewScanner(stdout), &outBuf)
	go drain("stderr", bufio.NewScanner(stderr), &errBuf)
	<-done
	<-done

	err = cmd.Wait()
	res.Stdout = outBuf.String()
	res.Stderr = errBuf.String()
	if err != nil {
		applyRunError(res, err)
	}
	return nil
}

func applyRunError(res *Result, err error) {
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return
	}
	res.Err = err.Error()
	res.ExitCode = -1
}
