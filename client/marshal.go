// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/message"
)

// marshaler converts between messages and collaborator wire messages.
type marshaler struct {
	b      broker.Broker
	logger *slog.Logger
}

// wireHandle ties a decoded message to the wire message it came from.
type wireHandle struct {
	b   broker.Broker
	ref broker.MsgRef
}

func (h *wireHandle) Acknowledge() error { return h.b.Acknowledge(h.ref) }
func (h *wireHandle) Recover() error     { return h.b.Recover(h.ref) }
func (h *wireHandle) Release() error     { return h.b.DestroyMessage(h.ref) }

// encode builds a wire message from m. A non-zero replyTo overrides the
// message's own reply-to. On failure the partial wire message is destroyed.
func (ms marshaler) encode(m message.Message, replyTo broker.DestRef) (ref broker.MsgRef, err error) {
	if m == nil {
		return 0, fmt.Errorf("%w: nil message", ErrUnsupportedType)
	}
	ref, err = ms.b.CreateMessage(m.Kind())
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			ms.destroyMessage(ref)
			ref = 0
		}
	}()

	switch body := m.(type) {
	case *message.TextMessage:
		err = ms.b.SetText(ref, body.Body)
	case *message.BytesMessage:
		err = ms.b.SetBytes(ref, body.Body)
	case *message.MapMessage:
		err = ms.encodeMap(ref, body.Body)
	case *message.ObjectMessage:
		err = ms.b.SetObjectBytes(ref, body.Body)
	default:
		err = fmt.Errorf("%w: %T", ErrUnsupportedType, m)
	}
	if err != nil {
		return ref, err
	}

	env := m.Base()
	if err = ms.encodeHeader(ref, env.Header); err != nil {
		return ref, err
	}

	switch {
	case replyTo != 0:
		err = ms.b.SetReplyTo(ref, replyTo)
	case env.ReplyTo != nil:
		err = ms.setReplyTo(ref, *env.ReplyTo)
	}
	return ref, err
}

func (ms marshaler) encodeMap(ref broker.MsgRef, body map[string]message.TypedValue) error {
	for _, name := range slices.Sorted(maps.Keys(body)) {
		v := body[name]
		if v.Kind() == message.MapValue {
			nested, err := v.MapValue()
			if err != nil {
				return err
			}
			if err := ms.encodeNested(ref, name, nested.Body); err != nil {
				return err
			}
			continue
		}
		if err := ms.b.SetMapValue(ref, name, v); err != nil {
			return unsupported(err, "map entry", name)
		}
	}
	return nil
}

// encodeNested builds the child body first, attaches a copy to the parent and
// destroys the child before returning.
func (ms marshaler) encodeNested(parent broker.MsgRef, name string, body map[string]message.TypedValue) error {
	child, err := ms.b.CreateMessage(message.MapKind)
	if err != nil {
		return err
	}
	defer ms.destroyMessage(child)

	if err := ms.encodeMap(child, body); err != nil {
		return err
	}
	if err := ms.b.SetMapMessage(parent, name, child); err != nil {
		return unsupported(err, "map entry", name)
	}
	return nil
}

func (ms marshaler) encodeHeader(ref broker.MsgRef, header map[string]message.TypedValue) error {
	for _, name := range slices.Sorted(maps.Keys(header)) {
		v := header[name]
		switch v.Kind() {
		case message.BinaryValue, message.MapValue, message.InvalidValue:
			return fmt.Errorf("%w: header %q holds %s", ErrUnsupportedType, name, v.Kind())
		}

		switch name {
		case message.HeaderCorrelationID:
			id, err := v.StringValue()
			if err != nil {
				return fmt.Errorf("header %q: %w", name, err)
			}
			if err := ms.b.SetCorrelationID(ref, id); err != nil {
				return err
			}
		case message.HeaderType:
			typ, err := v.StringValue()
			if err != nil {
				return fmt.Errorf("header %q: %w", name, err)
			}
			if err := ms.b.SetType(ref, typ); err != nil {
				return err
			}
		}

		if err := ms.b.SetProperty(ref, name, v); err != nil {
			return unsupported(err, "header", name)
		}
	}
	return nil
}

func (ms marshaler) setReplyTo(ref broker.MsgRef, d message.Destination) error {
	dest, err := ms.b.CreateDestination(d.Kind, d.Name)
	if err != nil {
		return err
	}
	defer ms.destroyDestination(dest)
	return ms.b.SetReplyTo(ref, dest)
}

// decode builds a message from the wire message ref. The returned message owns
// ref and releases it on Destroy. On failure ref is left to the caller.
func (ms marshaler) decode(ref broker.MsgRef) (message.Message, error) {
	kind, err := ms.b.BodyKind(ref)
	if err != nil {
		return nil, err
	}

	var m message.Message
	switch kind {
	case message.TextKind:
		text, err := ms.b.Text(ref)
		if err != nil {
			return nil, err
		}
		m = message.NewText(text)
	case message.BytesKind:
		b, err := ms.b.Bytes(ref)
		if err != nil {
			return nil, err
		}
		m = message.NewBytes(b)
	case message.MapKind:
		body, err := ms.decodeMap(ref)
		if err != nil {
			return nil, err
		}
		mm := message.NewMap()
		mm.Body = body
		m = mm
	case message.ObjectKind:
		b, err := ms.b.ObjectBytes(ref)
		if err != nil {
			return nil, err
		}
		m = message.NewObject(b)
	default:
		return nil, fmt.Errorf("%w: body kind %s", ErrUnsupportedType, kind)
	}

	if err := ms.decodeEnvelope(ref, m.Base()); err != nil {
		return nil, err
	}
	message.Attach(m, &wireHandle{b: ms.b, ref: ref})
	return m, nil
}

func (ms marshaler) decodeMap(ref broker.MsgRef) (map[string]message.TypedValue, error) {
	names, err := ms.b.MapNames(ref)
	if err != nil {
		return nil, err
	}

	body := make(map[string]message.TypedValue, len(names))
	for _, name := range names {
		v, err := ms.b.MapValue(ref, name)
		if err == nil {
			body[name] = v
			continue
		}
		if !errors.Is(err, broker.ErrConversion) {
			return nil, err
		}

		// Not a primitive: retry as a nested map. The child ref is borrowed.
		child, cerr := ms.b.MapMessage(ref, name)
		if cerr != nil {
			return nil, fmt.Errorf("%w: map entry %q: %w", ErrUnsupportedType, name, cerr)
		}
		nested, cerr := ms.decodeMap(child)
		if cerr != nil {
			return nil, cerr
		}
		inner := message.NewMap()
		inner.Body = nested
		body[name] = message.Map(inner)
	}
	return body, nil
}

func (ms marshaler) decodeEnvelope(ref broker.MsgRef, env *message.Envelope) error {
	id, err := ms.b.MessageID(ref)
	if err != nil {
		return err
	}
	if id != "" {
		env.SetHeader(message.HeaderMessageID, message.String(id))
	}

	corr, ok, err := ms.b.CorrelationID(ref)
	if err != nil {
		return err
	}
	if ok {
		env.SetHeader(message.HeaderCorrelationID, message.String(corr))
	}

	names, err := ms.b.PropertyNames(ref)
	if err != nil {
		return err
	}
	for _, name := range names {
		v, err := ms.b.Property(ref, name)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		env.SetHeader(name, v)
	}

	typ, err := ms.b.Type(ref)
	if err != nil {
		return err
	}
	if typ != "" {
		env.SetHeader(message.HeaderType, message.String(typ))
	}

	if env.Destination, err = ms.destination(ms.b.Destination(ref)); err != nil {
		return err
	}
	if env.ReplyTo, err = ms.destination(ms.b.ReplyTo(ref)); err != nil {
		return err
	}
	return nil
}

// destination resolves a borrowed destination reference. Zero means unset.
func (ms marshaler) destination(ref broker.DestRef, err error) (*message.Destination, error) {
	if err != nil || ref == 0 {
		return nil, err
	}
	d, err := ms.b.DestinationInfo(ref)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (ms marshaler) destroyMessage(ref broker.MsgRef) {
	if err := ms.b.DestroyMessage(ref); err != nil {
		ms.logger.Error("failed to destroy wire message", slog.Uint64("ref", uint64(ref)), slog.String("error", err.Error()))
	}
}

func (ms marshaler) destroyDestination(ref broker.DestRef) {
	if err := ms.b.DestroyDestination(ref); err != nil {
		ms.logger.Error("failed to destroy destination", slog.Uint64("ref", uint64(ref)), slog.String("error", err.Error()))
	}
}

// unsupported maps a collaborator refusal to ErrUnsupportedType.
func unsupported(err error, what, name string) error {
	if errors.Is(err, broker.ErrUnsupported) {
		return fmt.Errorf("%w: %s %q: %w", ErrUnsupportedType, what, name, err)
	}
	return err
}
