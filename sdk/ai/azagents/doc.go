// Package azagents provides a client for the Azure AI Agents API:
// agents, conversation threads, messages, and runs.
//
// Runs execute asynchronously. CreateAndProcessRun drives one to a
// terminal state, polling its status and answering requires_action
// rounds from a Toolset of registered Go functions. A function that
// returns an error has the error handed back to the model as its
// output; a run requesting a function the set does not register is
// cancelled.
package azagents
