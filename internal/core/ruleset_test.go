package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuleSetValidRows(t *testing.T) {
	rs, err := NewRuleSet([]RuleRow{
		{StartSegment: "subject", EndSegment: "subject", Phrase: "urgent action"},
		{StartSegment: "body", EndSegment: "body", Phrase: "click here"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, Rule{Segment: SegmentSubject, Phrase: "urgent action"}, rs.Rules()[0])
	assert.Equal(t, Rule{Segment: SegmentBody, Phrase: "click here"}, rs.Rules()[1])
}

func TestNewRuleSetSegmentCaseInsensitive(t *testing.T) {
	rs, err := NewRuleSet([]RuleRow{
		{StartSegment: "Subject", EndSegment: "SUBJECT", Phrase: "verify"},
		{StartSegment: " Headers ", EndSegment: "headers", Phrase: "x-mailer"},
	})
	require.NoError(t, err)
	assert.Equal(t, SegmentSubject, rs.Rules()[0].Segment)
	assert.Equal(t, SegmentHeaders, rs.Rules()[1].Segment)
}

func TestNewRuleSetRejectsUnknownSegment(t *testing.T) {
	_, err := NewRuleSet([]RuleRow{
		{StartSegment: "subject", EndSegment: "subject", Phrase: "ok"},
		{StartSegment: "bogus", EndSegment: "bogus", Phrase: "nope"},
	})
	require.Error(t, err)

	var verr *RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Row)
	assert.Contains(t, verr.Reason, "bogus")
}

func TestNewRuleSetRejectsMismatchedSegments(t *testing.T) {
	_, err := NewRuleSet([]RuleRow{
		{StartSegment: "subject", EndSegment: "body", Phrase: "verify"},
	})
	var verr *RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.Row)
}

func TestNewRuleSetRejectsEmptyPhrase(t *testing.T) {
	_, err := NewRuleSet([]RuleRow{
		{StartSegment: "body", EndSegment: "body", Phrase: "   "},
	})
	var verr *RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, verr.Row)
	assert.Contains(t, verr.Reason, "empty phrase")
}

func TestNewRuleSetFailsClosed(t *testing.T) {
	// One bad row rejects the whole set; no partial rule set remains.
	rs, err := NewRuleSet([]RuleRow{
		{StartSegment: "subject", EndSegment: "subject", Phrase: "ok"},
		{StartSegment: "nowhere", EndSegment: "nowhere", Phrase: "bad"},
		{StartSegment: "body", EndSegment: "body", Phrase: "ok too"},
	})
	require.Error(t, err)
	assert.Nil(t, rs)
}

func TestNewRuleSetKeepsDuplicates(t *testing.T) {
	rs, err := NewRuleSet([]RuleRow{
		{StartSegment: "body", EndSegment: "body", Phrase: "click here"},
		{StartSegment: "body", EndSegment: "body", Phrase: "click here"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())
}
