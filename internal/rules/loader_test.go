package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
)

func TestLoadSkipsHeaderRow(t *testing.T) {
	csv := `start_segment,end_segment,suspicious_phrase
subject,subject,urgent action
body,body,click here
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())

	rules := rs.Rules()
	assert.Equal(t, core.SegmentSubject, rules[0].Segment)
	assert.Equal(t, "urgent action", rules[0].Phrase)
	assert.Equal(t, core.SegmentBody, rules[1].Segment)
	assert.Equal(t, "click here", rules[1].Phrase)
}

func TestLoadWithoutHeaderRow(t *testing.T) {
	csv := `subject,subject,verify your account
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
}

func TestLoadMixedCaseSegments(t *testing.T) {
	csv := `Subject,SUBJECT,urgent action
 Headers , headers ,x-priority
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, core.SegmentSubject, rs.Rules()[0].Segment)
	assert.Equal(t, core.SegmentHeaders, rs.Rules()[1].Segment)
}

func TestLoadRejectsUnknownSegment(t *testing.T) {
	csv := `subject,subject,urgent action
bogus,bogus,whatever
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	assert.Nil(t, rs)

	var verr *core.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Row)
}

func TestLoadRejectsShortRow(t *testing.T) {
	csv := `subject,subject,urgent action
body,click here
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	assert.Nil(t, rs)

	var verr *core.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Row)
	assert.Contains(t, verr.Reason, "3 columns")
}

func TestLoadQuotedPhraseWithComma(t *testing.T) {
	csv := `body,body,"act now, or else"
`
	rs, err := NewLoader(zap.NewNop()).Load(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, "act now, or else", rs.Rules()[0].Phrase)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.csv")
	content := "start_segment,end_segment,suspicious_phrase\nbody,body,wire transfer\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rs, err := NewLoader(zap.NewNop()).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := NewLoader(zap.NewNop()).LoadFile(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open rules file")
}
