// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mock

// Op names a journaled broker call.
type Op string

// Journaled calls. Each can be failed with FailOn.
const (
	OpConnect                     Op = "connect"
	OpStart                       Op = "start"
	OpCloseConnection             Op = "close_connection"
	OpCreateSession               Op = "create_session"
	OpCloseSession                Op = "close_session"
	OpCreateProducer              Op = "create_producer"
	OpCloseProducer               Op = "close_producer"
	OpCreateConsumer              Op = "create_consumer"
	OpCreateSharedConsumer        Op = "create_shared_consumer"
	OpCreateSharedDurableConsumer Op = "create_shared_durable_consumer"
	OpCloseConsumer               Op = "close_consumer"
	OpCreateTemporaryQueue        Op = "create_temporary_queue"
	OpCreateTemporaryTopic        Op = "create_temporary_topic"
	OpDeleteTemporaryQueue        Op = "delete_temporary_queue"
	OpDeleteTemporaryTopic        Op = "delete_temporary_topic"
	OpSend                        Op = "send"
	OpReceive                     Op = "receive"
	OpAcknowledge                 Op = "acknowledge"
	OpRecover                     Op = "recover"
	OpCreateDestination           Op = "create_destination"
	OpDestroyDestination          Op = "destroy_destination"
	OpCreateMessage               Op = "create_message"
	OpDestroyMessage              Op = "destroy_message"
	OpSetMapValue                 Op = "set_map_value"
	OpSetMapMessage               Op = "set_map_message"
	OpMapMessage                  Op = "map_message"
	OpSetProperty                 Op = "set_property"
	OpSetReplyTo                  Op = "set_reply_to"
)
