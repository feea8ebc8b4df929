package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
	"github.com/shre-db/linked-squad/go/assistant/internal/util"
)

const (
	jobDescriptionMinKeywords = 3
	jobDescriptionMinLength   = 200

	contextMessages = 3
	contextChars    = 100

	// transcriptWindow bounds the history sent to the decision oracle.
	transcriptWindow = 20
)

var jobDescriptionKeywords = []string{
	"experience", "responsibilities", "qualifications", "requirements", "skills",
	"years", "education", "job summary", "salary", "benefits",
}

// LooksLikeJobDescription reports whether free text is probably a pasted job
// posting: keyword dense or long.
func LooksLikeJobDescription(input string) bool {
	return util.CountKeywordMatches(input, jobDescriptionKeywords) >= jobDescriptionMinKeywords ||
		utf8.RuneCountInString(input) > jobDescriptionMinLength
}

// expectingJobDescription reports whether the evaluator is the pending target and
// no description is recorded yet.
func expectingJobDescription(st *state.ConversationState) bool {
	if strings.TrimSpace(st.JobDescription) != "" {
		return false
	}
	return st.AwaitingJobDescription ||
		st.ProposedNextAction == state.ActionCallJobFit ||
		st.LastAgentCalled == state.CapabilityJobFit
}

// transcriptSummary renders the recent history as "Role: content" lines.
func transcriptSummary(st *state.ConversationState) string {
	msgs := st.Transcript
	if len(msgs) > transcriptWindow {
		msgs = msgs[len(msgs)-transcriptWindow:]
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		role := string(m.Role)
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		fmt.Fprintf(&b, "%s: %s", role, m.Content)
	}
	return b.String()
}
