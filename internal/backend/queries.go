package backend

const messageFields = `
	id
	conversationId
	senderId
	text
	medias { url type }
	sentAt
	deliveredTo { userId date }
	seenBy { userId date }
`

const conversationFields = `
	id
	participants { id username fullName image }
	messages {` + messageFields + `}
`

const sendMessageMutation = `mutation SendMessage($conversationId: ID!, $text: String, $files: [Upload!]) {
	sendMessage(conversationId: $conversationId, text: $text, files: $files) {` + messageFields + `}
}`

const oneToOneConversationMutation = `mutation GetOrCreateOneToOneConversation($userId: ID!) {
	getOrCreateOneToOneConversation(userId: $userId) {` + conversationFields + `}
}`

const conversationsQuery = `query Conversations {
	conversations {` + conversationFields + `}
}`
