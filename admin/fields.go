// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"fmt"
	"strconv"

	"github.com/absmach/jms/message"
)

// Wire field names of destination attributes.
const (
	fieldName            = "dn"
	fieldType            = "dt"
	fieldPending         = "nm"
	fieldMaxBytes        = "mb"
	fieldMaxMessages     = "mm"
	fieldOverflow        = "op"
	fieldFailsafe        = "failsafe"
	fieldSecure          = "secure"
	fieldGlobal          = "global"
	fieldSenderName      = "sname"
	fieldSenderNameEnf   = "snameenf"
	fieldPrefetch        = "pf"
	fieldExpiry          = "expy"
	fieldRedelivery      = "rdd"
	fieldConsumers       = "cc"
	fieldDurables        = "dc"
	fieldSubscribers     = "sc"
	fieldIncoming        = "it"
	fieldOutgoing        = "ot"
	fieldState           = "state"
	fieldBridgeSource    = "sn"
	fieldBridgeSrcType   = "st"
	fieldBridgeTarget    = "tn"
	fieldBridgeTgtType   = "tt"
	fieldBridgeSelector  = "sel"
	fieldPermType        = "permType"
	fieldPattern         = "pattern"
	fieldIncludeAll      = "ia"
	fieldFirst           = "first"
	destinationTypeQueue = 1
	destinationTypeTopic = 2
)

// attrs reads typed attributes out of a map body. Values may arrive as strings
// or as numeric and boolean values. The first failure sticks in err.
type attrs struct {
	body map[string]message.TypedValue
	err  error
}

func (a *attrs) fail(name string, err error) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: field %q: %w", ErrUnexpectedResponse, name, err)
	}
}

func (a *attrs) int64(name string) *int64 {
	v, ok := a.body[name]
	if !ok {
		return nil
	}
	var (
		n   int64
		err error
	)
	switch v.Kind() {
	case message.StringValue:
		s, _ := v.StringValue()
		n, err = strconv.ParseInt(s, 10, 64)
	case message.IntegerValue:
		i, _ := v.IntValue()
		n = int64(i)
	case message.LongValue:
		n, _ = v.LongValue()
	default:
		err = fmt.Errorf("%w: %s is not numeric", message.ErrConversion, v.Kind())
	}
	if err != nil {
		a.fail(name, err)
		return nil
	}
	return &n
}

func (a *attrs) int32(name string) *int32 {
	n := a.int64(name)
	if n == nil {
		return nil
	}
	i := int32(*n)
	return &i
}

func (a *attrs) bool(name string) *bool {
	v, ok := a.body[name]
	if !ok {
		return nil
	}
	var b bool
	switch v.Kind() {
	case message.StringValue:
		s, _ := v.StringValue()
		b = s == "1" || s == "true"
	case message.BooleanValue:
		b, _ = v.BoolValue()
	case message.IntegerValue:
		i, _ := v.IntValue()
		b = i != 0
	default:
		a.fail(name, fmt.Errorf("%w: %s is not boolean", message.ErrConversion, v.Kind()))
		return nil
	}
	return &b
}

func (a *attrs) overflow(name string) *OverflowPolicy {
	n := a.int64(name)
	if n == nil {
		return nil
	}
	p := OverflowPolicy(*n)
	switch p {
	case OverflowDefault, OverflowDiscardOld, OverflowRejectIncoming:
	default:
		p = OverflowDefault
	}
	return &p
}

func parseQueue(name string, body map[string]message.TypedValue) (QueueInfo, error) {
	a := attrs{body: body}
	q := QueueInfo{
		Name:               name,
		PendingMessages:    a.int64(fieldPending),
		MaxMessages:        a.int64(fieldMaxMessages),
		MaxBytes:           a.int64(fieldMaxBytes),
		OverflowPolicy:     a.overflow(fieldOverflow),
		Failsafe:           a.bool(fieldFailsafe),
		Secure:             a.bool(fieldSecure),
		Global:             a.bool(fieldGlobal),
		SenderName:         a.bool(fieldSenderName),
		SenderNameEnforced: a.bool(fieldSenderNameEnf),
		Prefetch:           a.int32(fieldPrefetch),
		ExpiryOverride:     a.int64(fieldExpiry),
		RedeliveryDelay:    a.int64(fieldRedelivery),
		ConsumerCount:      a.int32(fieldConsumers),
		IncomingTotalCount: a.int64(fieldIncoming),
		OutgoingTotalCount: a.int64(fieldOutgoing),
	}
	return q, a.err
}

func parseTopic(name string, body map[string]message.TypedValue) (TopicInfo, error) {
	a := attrs{body: body}
	t := TopicInfo{
		Name:               name,
		ExpiryOverride:     a.int64(fieldExpiry),
		Global:             a.bool(fieldGlobal),
		MaxBytes:           a.int64(fieldMaxBytes),
		MaxMessages:        a.int64(fieldMaxMessages),
		OverflowPolicy:     a.overflow(fieldOverflow),
		Prefetch:           a.int32(fieldPrefetch),
		DurableCount:       a.int32(fieldDurables),
		SubscriberCount:    a.int32(fieldSubscribers),
		PendingMessages:    a.int64(fieldPending),
		IncomingTotalCount: a.int64(fieldIncoming),
		OutgoingTotalCount: a.int64(fieldOutgoing),
	}
	return t, a.err
}

// Request builders set only the attributes the caller specified.

func setInt64(m *message.MapMessage, name string, v *int64) {
	if v != nil {
		m.Set(name, message.String(strconv.FormatInt(*v, 10)))
	}
}

func setInt32(m *message.MapMessage, name string, v *int32) {
	if v != nil {
		m.Set(name, message.String(strconv.FormatInt(int64(*v), 10)))
	}
}

func setBool(m *message.MapMessage, name string, v *bool) {
	if v == nil {
		return
	}
	s := "0"
	if *v {
		s = "1"
	}
	m.Set(name, message.String(s))
}

func setOverflow(m *message.MapMessage, name string, v *OverflowPolicy) {
	if v != nil {
		m.Set(name, message.String(strconv.Itoa(int(*v))))
	}
}

func destinationType(d message.Destination) int32 {
	if d.IsTopic() {
		return destinationTypeTopic
	}
	return destinationTypeQueue
}

func queueBody(q QueueInfo) *message.MapMessage {
	m := message.NewMap().
		Set(fieldName, message.String(q.Name)).
		Set(fieldType, message.Integer(destinationTypeQueue))
	setInt64(m, fieldMaxMessages, q.MaxMessages)
	setInt64(m, fieldMaxBytes, q.MaxBytes)
	setOverflow(m, fieldOverflow, q.OverflowPolicy)
	setBool(m, fieldFailsafe, q.Failsafe)
	setBool(m, fieldSecure, q.Secure)
	setBool(m, fieldGlobal, q.Global)
	setBool(m, fieldSenderName, q.SenderName)
	setBool(m, fieldSenderNameEnf, q.SenderNameEnforced)
	setInt32(m, fieldPrefetch, q.Prefetch)
	setInt64(m, fieldExpiry, q.ExpiryOverride)
	setInt64(m, fieldRedelivery, q.RedeliveryDelay)
	return m
}

func topicBody(t TopicInfo) *message.MapMessage {
	m := message.NewMap().
		Set(fieldName, message.String(t.Name)).
		Set(fieldType, message.Integer(destinationTypeTopic))
	setInt64(m, fieldExpiry, t.ExpiryOverride)
	setBool(m, fieldGlobal, t.Global)
	setInt64(m, fieldMaxBytes, t.MaxBytes)
	setInt64(m, fieldMaxMessages, t.MaxMessages)
	setOverflow(m, fieldOverflow, t.OverflowPolicy)
	setInt32(m, fieldPrefetch, t.Prefetch)
	return m
}

func bridgeBody(b BridgeInfo) *message.MapMessage {
	m := message.NewMap().
		Set(fieldBridgeSource, message.String(b.Source.Name)).
		Set(fieldBridgeSrcType, message.Integer(destinationType(b.Source))).
		Set(fieldBridgeTarget, message.String(b.Target.Name)).
		Set(fieldBridgeTgtType, message.Integer(destinationType(b.Target)))
	if b.Selector != "" {
		m.Set(fieldBridgeSelector, message.String(b.Selector))
	}
	return m
}

func listBody(destType int32) *message.MapMessage {
	return message.NewMap().
		Set(fieldType, message.Integer(destType)).
		Set(fieldPermType, message.Integer(6)).
		Set(fieldPattern, message.String(">")).
		Set(fieldIncludeAll, message.Boolean(true)).
		Set(fieldFirst, message.Integer(1000))
}
