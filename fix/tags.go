// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package fix implements the FIX 4.2 tag-value wire codec and the
// structural/conditional message validator. A Message is an ordered
// set of Fields plus repeating Groups; Parse and Serialize convert
// between Message and the SOH-delimited wire frame.
package fix

// Well-known header, trailer and administrative tags. See companion
// FIX 4.2 specification, volume 4, for the full dictionary; only the
// tags this engine inspects or requires are named here.
const (
	TagBeginString  = 8
	TagBodyLength   = 9
	TagMsgType      = 35
	TagSenderCompID = 49
	TagTargetCompID = 56
	TagMsgSeqNum    = 34
	TagSendingTime  = 52
	TagCheckSum     = 10

	TagEncryptMethod   = 98
	TagHeartBtInt      = 108
	TagResetSeqNumFlag = 141
	TagTestReqID       = 112
	TagBeginSeqNo      = 7
	TagEndSeqNo        = 16
	TagNewSeqNo        = 36
	TagGapFillFlag     = 123
	TagPossDupFlag     = 43
	TagOrigSendingTime = 122
	TagText            = 58

	TagClOrdID     = 11
	TagSymbol      = 55
	TagSide        = 54
	TagOrdType     = 40
	TagOrderQty    = 38
	TagPrice       = 44
	TagStopPx      = 99
	TagTimeInForce = 59

	TagExecType  = 150
	TagOrdStatus = 39

	TagMDReqID          = 262
	TagSubscriptionType = 263
	TagMarketDepth      = 264
	TagNoMDEntryTypes   = 267
	TagNoMDEntries      = 268
	TagMDEntryType      = 269
	TagMDEntryPx        = 270
	TagMDEntrySize      = 271

	TagQuoteID        = 117
	TagQuoteReqID     = 131
	TagBidPx          = 132
	TagOfferPx        = 133
	TagBidSize        = 134
	TagOfferSize      = 135
	TagQuoteCondition = 276
)

// MsgType values for the administrative and business messages this
// engine understands natively.
const (
	MsgTypeHeartbeat           = "0"
	MsgTypeTestRequest         = "1"
	MsgTypeResendRequest       = "2"
	MsgTypeReject              = "3"
	MsgTypeSequenceReset       = "4"
	MsgTypeLogout              = "5"
	MsgTypeNewOrderSingle      = "D"
	MsgTypeExecutionReport     = "8"
	MsgTypeLogon               = "A"
	MsgTypeMarketDataRequest   = "V"
	MsgTypeMarketDataSnapshot  = "W"
	MsgTypeQuote               = "S"
	MsgTypeQuoteRequest        = "R"
)

// administrativeMsgTypes is the set of message types that ResendRequest
// replaces with a SequenceReset-GapFill instead of literal retransmission.
var administrativeMsgTypes = map[string]bool{
	MsgTypeLogon:         true,
	MsgTypeLogout:        true,
	MsgTypeHeartbeat:     true,
	MsgTypeTestRequest:   true,
	MsgTypeResendRequest: true,
	MsgTypeSequenceReset: true,
}

// IsAdministrative reports whether msgType is one of the session-level
// message types (§4.4, resend-request gap-fill substitution rule).
func IsAdministrative(msgType string) bool {
	return administrativeMsgTypes[msgType]
}
