// Package agentpush provides the models and codecs for push-triggered
// incoming calls on an agent device.
//
// It includes the agent status record kept in the remote "agents"
// collection, the call-invite payload decoded from FCM data messages, and
// the handoff bundle forwarded to the call-handling screen once an invite
// is accepted.
//
// The fcm subpackage acquires push tokens and receives data messages, the
// tokensync subpackage keeps the agent record up to date, and the incoming
// subpackage drives the accept/decline flow.
package agentpush
