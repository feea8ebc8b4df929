package orchestrator

import "github.com/shre-db/linked-squad/go/assistant/internal/state"

const (
	replyWelcome = "Hi! I'm your LinkedIn profile assistant. I can analyze your profile, rewrite sections of it, " +
		"evaluate how well you fit a job, and give career guidance. Share your LinkedIn profile URL " +
		"(for example https://www.linkedin.com/in/your-name) to get started."
	replyAwaitURL           = "No LinkedIn data available for analysis. Please provide a LinkedIn profile URL first."
	replyNeedProfile        = "I need your LinkedIn profile before I can help with that. Please share your profile URL."
	replyNeedJobDescription = "Job description required for fit evaluation. Please provide a job description."
	replyInvalidInput       = "I didn't catch that. Tell me what you'd like to do with your profile."
	replyRespond            = "How can I help you with your profile today?"
	replyConfirm            = "Would you like me to go ahead?"
	replyRoutingError       = "I apologize, I encountered an issue processing your request. Could you please rephrase?"
	replyInternalError      = "I apologize, but I encountered an internal error. Please try again or rephrase your request."
	replyProfileUnavailable = "I couldn't retrieve that profile right now. Please try again in a moment."
	replyNothingToProcess   = "I don't have any agent output to process. Please try again."
)

// replies for invalid input and parse failures of each capability
var issueReplies = map[state.Capability]string{
	state.CapabilityAnalyze: "I encountered an issue parsing the analysis results. This might be due to an unexpected response format. Please try again.",
	state.CapabilityRewrite: "I encountered an issue generating content suggestions. Please ensure your profile has been analyzed first.",
	state.CapabilityJobFit:  "I encountered an issue evaluating job fit. Please ensure both profile analysis and job description are available.",
	state.CapabilityGuide:   "I encountered an issue providing career guidance. Please ask a specific career-related question.",
}

// replies for generation failures and anything unexpected
var errorReplies = map[state.Capability]string{
	state.CapabilityAnalyze: "I apologize, but I encountered an error during profile analysis. Please try again.",
	state.CapabilityRewrite: "I apologize, but I encountered an error during content rewriting. Please try again.",
	state.CapabilityJobFit:  "I apologize, but I encountered an error during job fit evaluation. Please try again.",
	state.CapabilityGuide:   "I apologize, but I encountered an error providing career guidance. Please try again.",
}

var errorLabels = map[state.Capability]string{
	state.CapabilityAnalyze: "Analysis error",
	state.CapabilityRewrite: "Rewriting error",
	state.CapabilityJobFit:  "Job fit error",
	state.CapabilityGuide:   "Career guidance error",
}

var taskStatus = map[state.Capability]string{
	state.CapabilityAnalyze: "Profile analysis completed",
	state.CapabilityRewrite: "Content rewrite suggestions generated",
	state.CapabilityJobFit:  "Job fit evaluation completed",
	state.CapabilityGuide:   "Career guidance provided",
}
