// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import "testing"

func baseHeader(m *Message, seq string) {
	m.Set(TagMsgSeqNum, seq)
	m.Set(TagSenderCompID, "A")
	m.Set(TagTargetCompID, "B")
	m.Set(TagSendingTime, "20260101-00:00:00.000")
}

func TestValidateRejectsMissingRequiredHeader(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeHeartbeat)
	m.Set(TagMsgSeqNum, "1")
	// SenderCompID/TargetCompID/SendingTime intentionally omitted.
	if err := Validate(m); err == nil {
		t.Fatal("Validate accepted a message missing required header fields")
	}
}

func TestValidateRejectsBadSendingTime(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeHeartbeat)
	baseHeader(m, "1")
	m.Set(TagSendingTime, "not-a-timestamp")
	if err := Validate(m); err == nil {
		t.Fatal("Validate accepted a malformed SendingTime")
	}
}

func TestValidateRejectsNonPositiveMsgSeqNum(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeHeartbeat)
	baseHeader(m, "0")
	if err := Validate(m); err == nil {
		t.Fatal("Validate accepted MsgSeqNum=0")
	}
}

func TestValidateLogonRequiresEncryptMethodAndHeartBtInt(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeLogon)
	baseHeader(m, "1")
	if err := Validate(m); err == nil {
		t.Fatal("Validate accepted a Logon missing EncryptMethod/HeartBtInt")
	}
	m.Set(TagEncryptMethod, "0")
	m.Set(TagHeartBtInt, "30")
	if err := Validate(m); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateQuoteRequestRequiresSymbol(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeQuoteRequest)
	baseHeader(m, "1")
	m.Set(TagQuoteReqID, "QR-1")
	if err := Validate(m); err == nil {
		t.Fatal("Validate accepted a QuoteRequest missing Symbol")
	}
	m.Set(TagSymbol, "MSFT")
	if err := Validate(m); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateOrdTypeConditionalRequirements(t *testing.T) {
	newOrder := func(ordType string) *Message {
		m := NewMessage("FIX.4.2", MsgTypeNewOrderSingle)
		baseHeader(m, "1")
		m.Set(TagClOrdID, "ORD-1")
		m.Set(TagSymbol, "MSFT")
		m.Set(TagSide, "1")
		m.Set(TagOrdType, ordType)
		m.Set(TagOrderQty, "100")
		m.Set(TagTimeInForce, "0")
		return m
	}

	if err := Validate(newOrder(OrdTypeLimit)); err == nil {
		t.Error("Validate accepted OrdType=LIMIT without Price")
	}
	m := newOrder(OrdTypeLimit)
	m.Set(TagPrice, "10.5")
	if err := Validate(m); err != nil {
		t.Errorf("Validate LIMIT with Price: %v", err)
	}

	if err := Validate(newOrder(OrdTypeStop)); err == nil {
		t.Error("Validate accepted OrdType=STOP without StopPx")
	}
	m = newOrder(OrdTypeStop)
	m.Set(TagStopPx, "9.9")
	if err := Validate(m); err != nil {
		t.Errorf("Validate STOP with StopPx: %v", err)
	}

	m = newOrder(OrdTypeStopLimit)
	m.Set(TagPrice, "10.5")
	if err := Validate(m); err == nil {
		t.Error("Validate accepted OrdType=STOP_LIMIT with only Price")
	}
	m.Set(TagStopPx, "9.9")
	if err := Validate(m); err != nil {
		t.Errorf("Validate STOP_LIMIT with both: %v", err)
	}
}

func TestValidateQuoteRequiresBidOrOfferAndSizes(t *testing.T) {
	quote := func() *Message {
		m := NewMessage("FIX.4.2", MsgTypeQuote)
		baseHeader(m, "1")
		m.Set(TagQuoteID, "Q-1")
		m.Set(TagSymbol, "MSFT")
		return m
	}

	if err := Validate(quote()); err == nil {
		t.Error("Validate accepted a Quote with neither BidPx nor OfferPx")
	}

	m := quote()
	m.Set(TagBidPx, "10.0")
	if err := Validate(m); err == nil {
		t.Error("Validate accepted BidPx without BidSize")
	}
	m.Set(TagBidSize, "100")
	if err := Validate(m); err != nil {
		t.Errorf("Validate Bid-only quote: %v", err)
	}

	m.Set(TagOfferPx, "9.0")
	m.Set(TagOfferSize, "100")
	if err := Validate(m); err == nil {
		t.Error("Validate accepted BidPx > OfferPx")
	}
}

func TestValidateExecutionReportRequiresAdmissiblePair(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeExecutionReport)
	baseHeader(m, "1")
	m.Set(TagClOrdID, "ORD-1")
	m.Set(TagSymbol, "MSFT")
	m.Set(TagSide, "1")
	m.Set(TagExecType, "0")
	m.Set(TagOrdStatus, "8")
	if err := Validate(m); err == nil {
		t.Error("Validate accepted an inadmissible (ExecType, OrdStatus) pair")
	}
	m.Set(TagOrdStatus, "0")
	if err := Validate(m); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateMarketDataSnapshotGroupShape(t *testing.T) {
	def, _ := LookupGroup(TagNoMDEntries)
	m := NewMessage("FIX.4.2", MsgTypeMarketDataSnapshot)
	baseHeader(m, "1")
	m.Set(TagMDReqID, "MDR-1")
	m.SetGroup(def, []Entry{
		{
			Field{Tag: TagMDEntryType, Value: []byte("9")}, // not admissible
			Field{Tag: TagMDEntryPx, Value: []byte("1.0")},
			Field{Tag: TagMDEntrySize, Value: []byte("1")},
		},
	})
	if err := Validate(m); err == nil {
		t.Error("Validate accepted an inadmissible MDEntryType")
	}
}

func TestValidateRejectsInadmissibleEnum(t *testing.T) {
	m := NewMessage("FIX.4.2", MsgTypeNewOrderSingle)
	baseHeader(m, "1")
	m.Set(TagClOrdID, "ORD-1")
	m.Set(TagSymbol, "MSFT")
	m.Set(TagSide, "9") // not in {1..6}
	m.Set(TagOrdType, OrdTypeMarket)
	m.Set(TagOrderQty, "1")
	m.Set(TagTimeInForce, "0")
	if err := Validate(m); err == nil {
		t.Error("Validate accepted Side=9")
	}
}
