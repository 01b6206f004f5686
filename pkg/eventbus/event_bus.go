package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventBus dispatches values to subscribers whose function signature
// matches the published arguments.
type EventBus interface {
	Publish(args ...any)
	PublishE(args ...any) error
	Subscribe(handler any)
	Unsubscribe(handler any)
	Clear()
	SubscribersCount() int
}

var (
	ErrNoSubscribers        = errors.New("eventbus: no matching subscribers")
	ErrInvalidHandlerReturn = errors.New("eventbus: invalid handler return signature")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type bus struct {
	log *logrus.Logger

	mu       sync.RWMutex
	handlers []any
}

func New(log *logrus.Logger) EventBus {
	return &bus{log: log}
}

// MatchSignature reports whether handler can be called with args.
func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		param := t.In(i)
		if arg == nil {
			if param.Kind() != reflect.Interface && param.Kind() != reflect.Ptr {
				return false
			}
			continue
		}
		argType := reflect.TypeOf(arg)
		if param.Kind() == reflect.Interface {
			if !argType.Implements(param) {
				return false
			}
			continue
		}
		if !argType.AssignableTo(param) {
			return false
		}
	}
	return true
}

func (b *bus) snapshot() []any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]any, len(b.handlers))
	copy(out, b.handlers)
	return out
}

func callArgs(handler any, args []any) []reflect.Value {
	t := reflect.TypeOf(handler)
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(t.In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}
	return in
}

// Publish calls every matching handler and logs panics and returned errors.
func (b *bus) Publish(args ...any) {
	handled := false
	for _, h := range b.snapshot() {
		if !MatchSignature(h, args) {
			continue
		}
		handled = true
		if err := b.invoke(h, args); err != nil && b.log != nil {
			b.log.WithError(err).Error("eventbus.Publish: handler failed")
		}
	}
	if !handled && b.log != nil {
		b.log.Warnf("eventbus.Publish: no matching subscribers for %d args", len(args))
	}
}

// PublishE calls every matching handler and joins their errors.
// Handlers may return nothing or a single error.
func (b *bus) PublishE(args ...any) error {
	handled := false
	var errs []error
	for _, h := range b.snapshot() {
		if !MatchSignature(h, args) {
			continue
		}
		handled = true
		if err := b.invoke(h, args); err != nil {
			errs = append(errs, err)
		}
	}
	if !handled {
		return ErrNoSubscribers
	}
	return errors.Join(errs...)
}

func (b *bus) invoke(handler any, args []any) (err error) {
	v := reflect.ValueOf(handler)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", v.Type().String(), r)
		}
	}()

	out := v.Call(callArgs(handler, args))
	switch len(out) {
	case 0:
		return nil
	case 1:
		if out[0].Type() != errorType {
			return fmt.Errorf("%w: handler %s returns %s", ErrInvalidHandlerReturn, v.Type().String(), out[0].Type().String())
		}
		if out[0].IsNil() {
			return nil
		}
		return out[0].Interface().(error)
	default:
		return fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, v.Type().String(), len(out))
	}
}

func (b *bus) Subscribe(handler any) {
	if t := reflect.TypeOf(handler); t == nil || t.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *bus) Unsubscribe(handler any) {
	target := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if reflect.ValueOf(h).Pointer() == target {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

func (b *bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
}

func (b *bus) SubscribersCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
