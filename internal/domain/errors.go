package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels. Match with errors.Is; wrap with fmt.Errorf("%w: ...").
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrUnauthorized = fmt.Errorf("unauthorized")
)

// Sentinel errors for the game host.
var (
	ErrValidation  = fmt.Errorf("module validation failed")
	ErrIntegration = fmt.Errorf("module contract violation")
	ErrInvalidMove = fmt.Errorf("invalid move")
	ErrPersistence = fmt.Errorf("module store failed")

	// Agent errors.
	ErrAgentTimeout   = fmt.Errorf("agent timed out")
	ErrAgentCancelled = fmt.Errorf("agent move cancelled")
	ErrMovePending    = fmt.Errorf("a move request is already pending")
	ErrNoPendingMove  = fmt.Errorf("no move request is pending")

	// Match errors.
	ErrMatchActive   = fmt.Errorf("a match is already running")
	ErrMatchStopped  = fmt.Errorf("match stopped")
	ErrNoAgent       = fmt.Errorf("no agent registered for player")
	ErrMatchNotFound = fmt.Errorf("match %w", ErrNotFound)
	ErrGameNotFound  = fmt.Errorf("game %w", ErrNotFound)
	ErrTurnLimit     = fmt.Errorf("turn limit reached")

	// Provider errors. Every kind wraps ErrProvider.
	ErrProvider          = fmt.Errorf("llm provider error")
	ErrProviderNotFound  = fmt.Errorf("llm provider not found")
	ErrAuthInvalid       = fmt.Errorf("%w: authentication failed", ErrProvider)
	ErrRateLimit         = fmt.Errorf("%w: rate limit exceeded", ErrProvider)
	ErrProviderTimeout   = fmt.Errorf("%w: request timed out", ErrProvider)
	ErrNetwork           = fmt.Errorf("%w: network failure", ErrProvider)
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrProvider)
	ErrProviderServer    = fmt.Errorf("%w: server error", ErrProvider)
	ErrContextOverflow   = fmt.Errorf("%w: context window exceeded", ErrProvider)
	ErrCircuitOpen       = fmt.Errorf("%w: circuit breaker open", ErrProvider)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Engine.ApplyMove")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "wasm", "store")
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// NewIntegrationError reports a foreign module breaking its calling convention.
func NewIntegrationError(op, detail string) *DomainError {
	return NewSubSystemError("wasm", op, ErrIntegration, detail)
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ValidationError collects every problem found with a candidate module
// so callers see all of them at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("module validation failed: %s", strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Add appends a formatted problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any problem has been recorded.
func (e *ValidationError) HasErrors() bool { return len(e.Problems) > 0 }

// InvalidMoveError names the offending move and the player who made it.
type InvalidMoveError struct {
	Move   string
	Player Player
	Reason string
}

func (e *InvalidMoveError) Error() string {
	msg := fmt.Sprintf("invalid move %q by %s", e.Move, e.Player)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidMoveError) Is(target error) bool { return target == ErrInvalidMove }

// IsFatalToMatch reports whether err must end the current match.
// Validation and persistence errors are the caller's to retry.
func IsFatalToMatch(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrPersistence)
}

// ErrorCode is a machine-parseable error category for API responses and logs.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeIntegration       ErrorCode = "INTEGRATION"
	CodeInvalidMove       ErrorCode = "INVALID_MOVE"
	CodePersistence       ErrorCode = "PERSISTENCE"
	CodeAgentTimeout      ErrorCode = "AGENT_TIMEOUT"
	CodeAgentCancelled    ErrorCode = "AGENT_CANCELLED"
	CodeMovePending       ErrorCode = "MOVE_PENDING"
	CodeNoPendingMove     ErrorCode = "NO_PENDING_MOVE"
	CodeMatchActive       ErrorCode = "MATCH_ACTIVE"
	CodeMatchStopped      ErrorCode = "MATCH_STOPPED"
	CodeNoAgent           ErrorCode = "NO_AGENT"
	CodeMatchNotFound     ErrorCode = "MATCH_NOT_FOUND"
	CodeGameNotFound      ErrorCode = "GAME_NOT_FOUND"
	CodeTurnLimit         ErrorCode = "TURN_LIMIT"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeProviderTimeout   ErrorCode = "PROVIDER_TIMEOUT"
	CodeNetwork           ErrorCode = "NETWORK"
	CodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	CodeProviderServer    ErrorCode = "PROVIDER_SERVER"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeWASMTimeout       ErrorCode = "WASM_TIMEOUT"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
)

// errorCodes is ordered most specific first: provider kinds before ErrProvider,
// match/game not-found before ErrNotFound.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrRateLimit, CodeRateLimit},
	{ErrProviderTimeout, CodeProviderTimeout},
	{ErrNetwork, CodeNetwork},
	{ErrMalformedResponse, CodeMalformedResponse},
	{ErrProviderServer, CodeProviderServer},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrProvider, CodeProviderError},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrMatchNotFound, CodeMatchNotFound},
	{ErrGameNotFound, CodeGameNotFound},
	{ErrValidation, CodeValidation},
	{ErrIntegration, CodeIntegration},
	{ErrInvalidMove, CodeInvalidMove},
	{ErrPersistence, CodePersistence},
	{ErrAgentTimeout, CodeAgentTimeout},
	{ErrAgentCancelled, CodeAgentCancelled},
	{ErrMovePending, CodeMovePending},
	{ErrNoPendingMove, CodeNoPendingMove},
	{ErrMatchActive, CodeMatchActive},
	{ErrMatchStopped, CodeMatchStopped},
	{ErrNoAgent, CodeNoAgent},
	{ErrTurnLimit, CodeTurnLimit},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrUnauthorized, CodeUnauthorized},
}

// subSystemCodes refines a category sentinel when the DomainError carries a subsystem.
var subSystemCodes = map[error]map[string]ErrorCode{
	ErrIntegration: {
		"wasm.timeout": CodeWASMTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var de *DomainError
	if errors.As(err, &de) && de.SubSystem != "" {
		if m, ok := subSystemCodes[de.Err]; ok {
			if code, ok := m[de.SubSystem]; ok {
				return code
			}
		}
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e) }
