// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fix

import (
	"regexp"
	"strconv"

	"github.com/rob-gra/go-fix42/errs"
)

var sendingTimeRegexp = regexp.MustCompile(`^\d{8}-\d{2}:\d{2}:\d{2}(\.\d{3})?$`)

var requiredHeaderTags = []int{TagBeginString, TagMsgType, TagSenderCompID, TagTargetCompID, TagMsgSeqNum, TagSendingTime}

// requiredByMsgType is the §4.2 rule-3 static table: the tags a given
// MsgType must carry beyond the common header.
var requiredByMsgType = map[string][]int{
	MsgTypeNewOrderSingle:    {TagClOrdID, TagSymbol, TagSide, TagOrdType, TagOrderQty, 59},
	MsgTypeLogon:             {TagEncryptMethod, TagHeartBtInt},
	MsgTypeMarketDataRequest: {TagMDReqID, TagSubscriptionType, TagMarketDepth, TagNoMDEntries},
	MsgTypeQuote:             {TagQuoteID, TagSymbol},
	MsgTypeQuoteRequest:      {TagQuoteReqID, TagSymbol},
}

// Side admissible values.
var validSide = map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true, "6": true}

// OrdType admissible values.
const (
	OrdTypeMarket    = "1"
	OrdTypeLimit     = "2"
	OrdTypeStop      = "3"
	OrdTypeStopLimit = "4"
)

var validOrdType = map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true, "6": true, "7": true, "8": true}
var validTimeInForce = map[string]bool{"0": true, "1": true, "2": true, "3": true, "4": true, "6": true}
var validMDEntryType = map[string]bool{"0": true, "1": true, "2": true, "3": true, "4": true, "5": true, "7": true, "8": true}
var validQuoteCondition = map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true, "F": true}

// admissibleExecReportPairs are the (ExecType, OrdStatus) combinations
// an ExecutionReport may carry.
var admissibleExecReportPairs = map[[2]string]bool{
	{"0", "0"}: true, // New / New
	{"1", "1"}: true, // Partial fill / Partially filled
	{"2", "2"}: true, // Fill / Filled
	{"4", "4"}: true, // Cancelled / Cancelled
	{"5", "5"}: true, // Replaced / Replaced
	{"8", "8"}: true, // Rejected / Rejected
	{"6", "6"}: true, // Pending cancel / Pending cancel
	{"E", "E"}: true, // Pending replace / Pending replace
}

// decimalTags, timestampTags and enumTags enumerate tags with
// non-string semantics the validator checks independent of MsgType
// (§4.2 rule 2).
var decimalTags = map[int]bool{TagPrice: true, TagStopPx: true, TagOrderQty: true, TagBidPx: true, TagOfferPx: true, TagBidSize: true, TagOfferSize: true, TagMDEntryPx: true, TagMDEntrySize: true}
var timestampTags = map[int]bool{TagSendingTime: true, TagOrigSendingTime: true}
var enumTags = map[int]map[string]bool{
	TagSide:        validSide,
	TagOrdType:     validOrdType,
	TagTimeInForce: validTimeInForce,
	TagMDEntryType: validMDEntryType,
}

// Validate applies every §4.2 rule to m and returns a *errs.Error
// (Kind == KindParse) identifying the first offending tag on failure.
func Validate(m *Message) error {
	for _, tag := range requiredHeaderTags {
		if tag == TagBeginString || tag == TagMsgType {
			continue // carried on Message directly, not as an element
		}
		if !m.Has(tag) {
			return errs.Parse("tag %d: required header field missing", tag)
		}
	}
	if m.BeginString == "" {
		return errs.Parse("tag %d: BeginString missing", TagBeginString)
	}
	if m.MsgType == "" {
		return errs.Parse("tag %d: MsgType missing", TagMsgType)
	}

	seqStr, _ := m.GetString(TagMsgSeqNum)
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq <= 0 {
		return errs.Parse("tag %d: MsgSeqNum must be a positive integer, got %q", TagMsgSeqNum, seqStr)
	}

	if sendTime, _ := m.GetString(TagSendingTime); !sendingTimeRegexp.MatchString(sendTime) {
		return errs.Parse("tag %d: SendingTime %q does not match YYYYMMDD-HH:MM:SS[.sss]", TagSendingTime, sendTime)
	}

	if err := validateTypedFields(m); err != nil {
		return err
	}
	if err := validateRequiredForType(m); err != nil {
		return err
	}
	return validateConditional(m)
}

func validateTypedFields(m *Message) error {
	for tag := range decimalTags {
		v, ok := m.GetString(tag)
		if !ok {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return errs.Parse("tag %d: %q is not a finite decimal", tag, v)
		}
	}
	for tag := range timestampTags {
		v, ok := m.GetString(tag)
		if !ok {
			continue
		}
		if !sendingTimeRegexp.MatchString(v) {
			return errs.Parse("tag %d: %q does not match the timestamp format", tag, v)
		}
	}
	for tag, admissible := range enumTags {
		v, ok := m.GetString(tag)
		if !ok {
			continue
		}
		if !admissible[v] {
			return errs.Parse("tag %d: %q is not an admissible enum value", tag, v)
		}
	}
	return nil
}

func validateRequiredForType(m *Message) error {
	for _, tag := range requiredByMsgType[m.MsgType] {
		if !m.Has(tag) {
			return errs.Parse("tag %d: required by MsgType %q but missing", tag, m.MsgType)
		}
	}
	return validateGroupShape(m)
}

// validateGroupShape re-checks every registered group present on the
// message: the codec already enforces the counter/entry-count
// invariant while parsing, but outbound (constructed, never parsed)
// messages only get checked here.
func validateGroupShape(m *Message) error {
	for _, tag := range m.Tags() {
		g, ok := m.GetGroup(tag)
		if !ok {
			continue
		}
		for _, entry := range g.Entries {
			if len(entry) == 0 || entry[0].Tag != g.Def.Delimiter {
				return errs.Parse("tag %d: group entry does not start with delimiter tag %d", tag, g.Def.Delimiter)
			}
		}
		if tag == TagNoMDEntries {
			if err := validateMDEntries(g); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateMDEntries(g *Group) error {
	for _, entry := range g.Entries {
		mdType, ok := entry.Get(TagMDEntryType)
		if !ok || !validMDEntryType[string(mdType)] {
			return errs.Parse("tag %d: MDEntryType %q is not admissible", TagMDEntryType, mdType)
		}
		px, ok := entry.Get(TagMDEntryPx)
		if !ok {
			return errs.Parse("tag %d: MDEntryPx missing in MarketDataSnapshot entry", TagMDEntryPx)
		}
		if _, err := strconv.ParseFloat(string(px), 64); err != nil {
			return errs.Parse("tag %d: MDEntryPx %q is not a finite decimal", TagMDEntryPx, px)
		}
		size, ok := entry.Get(TagMDEntrySize)
		if !ok {
			return errs.Parse("tag %d: MDEntrySize missing in MarketDataSnapshot entry", TagMDEntrySize)
		}
		if _, err := strconv.ParseFloat(string(size), 64); err != nil {
			return errs.Parse("tag %d: MDEntrySize %q is not a finite decimal", TagMDEntrySize, size)
		}
	}
	return nil
}

// validateConditional applies the §4.2 rule-4 conditional-field rules.
func validateConditional(m *Message) error {
	switch m.MsgType {
	case MsgTypeNewOrderSingle:
		return validateOrdType(m)
	case MsgTypeQuote:
		return validateQuote(m)
	case MsgTypeExecutionReport:
		return validateExecutionReport(m)
	case MsgTypeMarketDataSnapshot:
		if !m.Has(TagNoMDEntries) {
			return errs.Parse("tag %d: MarketDataSnapshot requires the NoMDEntries repeating group", TagNoMDEntries)
		}
	}
	return nil
}

func validateOrdType(m *Message) error {
	ordType, _ := m.GetString(TagOrdType)
	switch ordType {
	case OrdTypeLimit:
		if !m.Has(TagPrice) {
			return errs.Parse("tag %d: OrdType=LIMIT requires Price", TagPrice)
		}
	case OrdTypeStop:
		if !m.Has(TagStopPx) {
			return errs.Parse("tag %d: OrdType=STOP requires StopPx", TagStopPx)
		}
	case OrdTypeStopLimit:
		if !m.Has(TagPrice) {
			return errs.Parse("tag %d: OrdType=STOP_LIMIT requires Price", TagPrice)
		}
		if !m.Has(TagStopPx) {
			return errs.Parse("tag %d: OrdType=STOP_LIMIT requires StopPx", TagStopPx)
		}
	}
	return nil
}

func validateQuote(m *Message) error {
	bidPx, hasBid := m.GetString(TagBidPx)
	offerPx, hasOffer := m.GetString(TagOfferPx)
	if !hasBid && !hasOffer {
		return errs.Parse("tag %d: Quote requires at least one of BidPx/OfferPx", TagBidPx)
	}
	if hasBid && !m.Has(TagBidSize) {
		return errs.Parse("tag %d: BidPx present without BidSize", TagBidSize)
	}
	if hasOffer && !m.Has(TagOfferSize) {
		return errs.Parse("tag %d: OfferPx present without OfferSize", TagOfferSize)
	}
	if hasBid && hasOffer {
		b, errB := strconv.ParseFloat(bidPx, 64)
		o, errO := strconv.ParseFloat(offerPx, 64)
		if errB == nil && errO == nil && b > o {
			return errs.Parse("tag %d: BidPx %s exceeds OfferPx %s", TagBidPx, bidPx, offerPx)
		}
	}
	if cond, ok := m.GetString(TagQuoteCondition); ok && !validQuoteCondition[cond] {
		return errs.Parse("tag %d: QuoteCondition %q is not admissible", TagQuoteCondition, cond)
	}
	return nil
}

func validateExecutionReport(m *Message) error {
	execType, _ := m.GetString(TagExecType)
	ordStatus, _ := m.GetString(TagOrdStatus)
	if !admissibleExecReportPairs[[2]string{execType, ordStatus}] {
		return errs.Parse("tag %d/%d: ExecType=%q, OrdStatus=%q is not an admissible pair", TagExecType, TagOrdStatus, execType, ordStatus)
	}
	return nil
}
