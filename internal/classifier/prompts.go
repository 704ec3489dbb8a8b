package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxPromptContent   = 2000
	maxPromptPainPoint = 300

	connectionCheckPrompt = "Say 'OK' if you can read this."
)

const extractGuidance = `Look for these signal types:
- pain_point: someone describes a recurring problem or frustration
- feature_request: someone asks for a capability that does not exist yet
- workaround: someone describes a hacky manual fix for a gap
- integration_gap: two tools that should talk to each other but don't
- manual_process: someone complains about repetitive manual work
- idea: someone discusses a product idea
- willingness_to_pay: someone says they would pay for a solution
- building_in_public: someone shares progress on a product in this space
%s
Fields:
- is_software_opportunity: true or false
- pain_point: the core problem in at most 50 words
- opportunity_name: a 3-6 word product name for the solution
- signal_type: one of pain_point, feature_request, workaround, integration_gap, idea, willingness_to_pay, manual_process
- category: one of developer_tools, productivity, automation, analytics, communication, security, infrastructure, other
- rejection_reason: why it was rejected, empty when accepted

Mark as software opportunity if someone could build a SaaS/tool/integration to address it.
Reject: job posts, political discussions, general questions, hardware issues, non-actionable complaints.`

// Post is the minimal view of a signal the classifier needs.
type Post struct {
	Title   string
	Content string
}

func signalContext(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	quoted := make([]string, len(hints))
	for i, h := range hints {
		quoted[i] = fmt.Sprintf("%q", h)
	}
	return "\nAlso look for these specific phrases/patterns the user has flagged as important signals: " +
		strings.Join(quoted, ", ") + "\n"
}

func buildExtractPrompt(post Post, hints []string) string {
	var sb strings.Builder
	sb.WriteString("Analyze this post and decide whether it describes a problem that software could solve.\n\n")
	fmt.Fprintf(&sb, "Title: %s\nContent: %s\n\n", post.Title, truncate(post.Content, maxPromptContent))
	fmt.Fprintf(&sb, extractGuidance, signalContext(hints))
	sb.WriteString("\n\nRespond with a single JSON object containing the fields above and nothing else.")
	return sb.String()
}

func buildBatchExtractPrompt(posts []Post, hints []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze these %d posts. For each, decide whether it describes a problem that software could solve.\n\n",
		len(posts))
	for i, p := range posts {
		fmt.Fprintf(&sb, "POST %d\nTitle: %s\nContent: %s\n\n", i, p.Title, truncate(p.Content, maxPromptContent))
	}
	fmt.Fprintf(&sb, extractGuidance, signalContext(hints))
	sb.WriteString("\n\nRespond with a JSON array containing one object per post. ")
	sb.WriteString(`Each object must include "index" (the POST number) plus the fields above. Return only the JSON array.`)
	return sb.String()
}

func buildMatchPrompt(opps []MatchOpportunity, posts []MatchPost) string {
	var sb strings.Builder
	sb.WriteString("Match new posts to existing opportunities when they describe the same core problem.\n\n")
	sb.WriteString("EXISTING OPPORTUNITIES:\n")
	for i, o := range opps {
		fmt.Fprintf(&sb, "OPP_ID: %d\nTitle: %s\nProblem: %s\n\n", i+1, o.Title, truncate(o.Description, maxPromptPainPoint))
	}
	sb.WriteString("NEW POSTS:\n")
	for i, p := range posts {
		fmt.Fprintf(&sb, "POST_ID: %d\nTitle: %s\nPain: %s\n\n", i+1, p.Title, truncate(p.PainPoint, maxPromptPainPoint))
	}
	sb.WriteString(`Rules:
- Only match when the post describes the same core problem as the opportunity
- Only report matches with confidence >= 0.7
- A post matches at most one opportunity
- Put every post that matches nothing in unmatched_post_ids

Respond with JSON only:
{"matches": [{"post_id": 1, "opportunity_id": 2, "confidence": 0.85}], "unmatched_post_ids": [3]}`)
	return sb.String()
}

func buildClusterPrompt(items []ClusterItem) string {
	var sb strings.Builder
	sb.WriteString("Given these pain points, identify which ones are essentially the same problem.\n\n")
	for i, it := range items {
		fmt.Fprintf(&sb, "ID: %d\nPain: %s\nTitle: %s\n\n", i+1, truncate(it.PainPoint, maxPromptPainPoint), it.Title)
	}
	sb.WriteString(`Group posts that describe the same underlying problem. Posts that share nothing form their own group.

Respond with JSON only:
{"clusters": [{"name": "short product name", "pain_point": "the shared problem", "post_ids": [1, 3], "confidence": 0.8}]}`)
	return sb.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
