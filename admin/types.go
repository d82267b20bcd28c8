// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"fmt"

	"github.com/absmach/jms/message"
)

// Command is an administrative command code carried in the "code" header.
type Command int32

// Command codes.
const (
	DeleteDestination Command = 16
	CreateDestination Command = 18
	ListDestination   Command = 19
	GetServerInfo     Command = 120
	GetStateInfo      Command = 127
	CreateBridge      Command = 220
	DeleteBridge      Command = 221
)

func (c Command) String() string {
	switch c {
	case DeleteDestination:
		return "delete_destination"
	case CreateDestination:
		return "create_destination"
	case ListDestination:
		return "list_destination"
	case GetServerInfo:
		return "get_server_info"
	case GetStateInfo:
		return "get_state_info"
	case CreateBridge:
		return "create_bridge"
	case DeleteBridge:
		return "delete_bridge"
	default:
		return fmt.Sprintf("command(%d)", int32(c))
	}
}

// ServerState is the fault-tolerance state of a server.
type ServerState int32

// Server states.
const (
	Standby ServerState = 3
	Active  ServerState = 4
)

func (s ServerState) String() string {
	switch s {
	case Standby:
		return "standby"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// OverflowPolicy decides what happens when a destination is full.
type OverflowPolicy int32

// Overflow policies.
const (
	OverflowDefault OverflowPolicy = iota
	OverflowDiscardOld
	OverflowRejectIncoming
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDefault:
		return "default"
	case OverflowDiscardOld:
		return "discard_old"
	case OverflowRejectIncoming:
		return "reject_incoming"
	default:
		return fmt.Sprintf("overflow(%d)", int32(p))
	}
}

// QueueInfo describes a queue. Nil fields are unknown or left to server defaults.
type QueueInfo struct {
	Name               string
	PendingMessages    *int64
	MaxMessages        *int64
	MaxBytes           *int64
	OverflowPolicy     *OverflowPolicy
	Failsafe           *bool
	Secure             *bool
	Global             *bool
	SenderName         *bool
	SenderNameEnforced *bool
	Prefetch           *int32
	ExpiryOverride     *int64
	RedeliveryDelay    *int64
	ConsumerCount      *int32
	IncomingTotalCount *int64
	OutgoingTotalCount *int64
}

// TopicInfo describes a topic. Nil fields are unknown or left to server defaults.
type TopicInfo struct {
	Name               string
	ExpiryOverride     *int64
	Global             *bool
	MaxBytes           *int64
	MaxMessages        *int64
	OverflowPolicy     *OverflowPolicy
	Prefetch           *int32
	DurableCount       *int32
	SubscriberCount    *int32
	PendingMessages    *int64
	IncomingTotalCount *int64
	OutgoingTotalCount *int64
}

// BridgeInfo links a source destination to a target. An empty selector forwards everything.
type BridgeInfo struct {
	Source   message.Destination
	Target   message.Destination
	Selector string
}
