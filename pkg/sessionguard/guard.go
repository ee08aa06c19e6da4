// Package sessionguard forces a sign-out when a request fails in a way that
// shows the caller's session points at an identity the backend no longer
// recognises, typically after the legacy identity merge collapsed the id
// space the session was issued against.
//
// Detection compares structured error codes for equality. Free text (panic
// values, log messages) is split into tokens and each token is compared
// against the same code set, so partial words never match.
package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

// Signal sources.
const (
	SourcePanic    = "panic"
	SourceResponse = "response"
	SourceLog      = "log"
)

// DefaultCodes are the failures that mean the session's identity no longer resolves.
var DefaultCodes = []string{
	appErrors.ErrIdentityNotFound.Code,
	appErrors.ErrNoSystemAccess.Code,
	appErrors.ErrInactiveAccount.Code,
}

// SignOutFunc revokes every session held by identityRef.
type SignOutFunc func(ctx context.Context, identityRef, code string) error

// Config tunes a Guard.
type Config struct {
	// Window is how long a signed-out identity is remembered; further
	// signals for it inside the window are ignored.
	Window         time.Duration
	Size           int
	Codes          []string
	SignOutTimeout time.Duration
	Logger         *zap.Logger
	// OnTrigger observes each sign-out actually performed.
	OnTrigger func(code, source string)
}

// Guard detects stale-session signals and signs the identity out once.
type Guard struct {
	codes     map[string]struct{}
	signOut   SignOutFunc
	timeout   time.Duration
	logger    *zap.Logger
	onTrigger func(code, source string)

	mu     sync.Mutex
	recent *expirable.LRU[string, struct{}]
}

var (
	installOnce sync.Once
	installed   *Guard
)

// Install creates the process-wide guard on first call. Later calls return
// the same guard and ignore their arguments.
func Install(signOut SignOutFunc, cfg Config) *Guard {
	installOnce.Do(func() {
		installed = New(signOut, cfg)
	})
	return installed
}

// Installed returns the process-wide guard, or nil before Install.
func Installed() *Guard {
	return installed
}

// New builds a standalone guard.
func New(signOut SignOutFunc, cfg Config) *Guard {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if len(cfg.Codes) == 0 {
		cfg.Codes = DefaultCodes
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	codes := make(map[string]struct{}, len(cfg.Codes))
	for _, c := range cfg.Codes {
		codes[c] = struct{}{}
	}
	return &Guard{
		codes:     codes,
		signOut:   signOut,
		timeout:   cfg.SignOutTimeout,
		logger:    cfg.Logger,
		onTrigger: cfg.OnTrigger,
		recent:    expirable.NewLRU[string, struct{}](cfg.Size, nil, cfg.Window),
	}
}

// Detect reports whether err carries a stale-session code. Every typed
// error in the chain is checked before falling back to the message text.
func (g *Guard) Detect(err error) (string, bool) {
	if g == nil || err == nil {
		return "", false
	}
	for e := err; e != nil; {
		var appErr *appErrors.Error
		if !errors.As(e, &appErr) || appErr == nil {
			break
		}
		if _, ok := g.codes[appErr.Code]; ok {
			return appErr.Code, true
		}
		e = appErr.Err
	}
	return g.DetectText(err.Error())
}

// DetectText scans free text for a whole-token code match.
func (g *Guard) DetectText(text string) (string, bool) {
	if g == nil || text == "" {
		return "", false
	}
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsUpper(r) || unicode.IsDigit(r) || r == '_')
	})
	for _, tok := range tokens {
		if _, ok := g.codes[tok]; ok {
			return tok, true
		}
	}
	return "", false
}

// DetectRecovered classifies a recovered panic value.
func (g *Guard) DetectRecovered(recovered interface{}) (string, bool) {
	if err, ok := recovered.(error); ok {
		return g.Detect(err)
	}
	return g.DetectText(fmt.Sprint(recovered))
}

// Trigger signs identityRef out unless it was already signed out within the
// window. It reports whether this call performed the sign-out. Failures are
// logged, never returned.
func (g *Guard) Trigger(ctx context.Context, identityRef, code, source string) bool {
	if g == nil || identityRef == "" {
		return false
	}
	g.mu.Lock()
	if g.recent.Contains(identityRef) {
		g.mu.Unlock()
		return false
	}
	g.recent.Add(identityRef, struct{}{})
	g.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if g.signOut != nil {
		if err := g.signOut(ctx, identityRef, code); err != nil {
			g.logger.Warn("forced sign-out failed",
				zap.String("personnel_id", identityRef),
				zap.String("code", code),
				zap.String("source", source),
				zap.Error(err))
			return true
		}
	}
	g.logger.Info("forced sign-out",
		zap.String("personnel_id", identityRef),
		zap.String("code", code),
		zap.String("source", source))
	if g.onTrigger != nil {
		g.onTrigger(code, source)
	}
	return true
}

// Forget clears the dedupe entry for identityRef, e.g. after it signs in again.
func (g *Guard) Forget(identityRef string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.recent.Remove(identityRef)
	g.mu.Unlock()
}

// Core returns a zap core that watches warn-and-above entries for stale
// session codes in error fields or the message, signing out the identity
// returned by identity() at write time. Tee it onto a request logger.
func (g *Guard) Core(identity func() string) zapcore.Core {
	return &guardCore{LevelEnabler: zapcore.WarnLevel, guard: g, identity: identity}
}

type guardCore struct {
	zapcore.LevelEnabler
	guard    *Guard
	identity func() string
	fields   []zapcore.Field
}

func (c *guardCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *guardCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *guardCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	code, ok := c.detect(ent, fields)
	if !ok {
		return nil
	}
	if c.identity == nil {
		return nil
	}
	if id := c.identity(); id != "" {
		go c.guard.Trigger(context.Background(), id, code, SourceLog)
	}
	return nil
}

func (c *guardCore) detect(ent zapcore.Entry, fields []zapcore.Field) (string, bool) {
	for _, set := range [][]zapcore.Field{c.fields, fields} {
		for _, f := range set {
			if f.Type != zapcore.ErrorType {
				continue
			}
			if err, ok := f.Interface.(error); ok {
				if code, ok := c.guard.Detect(err); ok {
					return code, true
				}
			}
		}
	}
	return c.guard.DetectText(ent.Message)
}

func (c *guardCore) Sync() error { return nil }
