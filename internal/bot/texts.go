package bot

// User-facing texts. Private chat texts go to users, the rest to operators in the support chat.
const (
	textAskContact = "Welcome to support! To identify you as a customer, please share your phone number " +
		"using the button below."
	textContactButton      = "Share phone number"
	textNotFoundOnSite     = "We could not find a customer with this phone number. Please share the number you registered with."
	textPhoneTaken         = "This phone number is already linked to another account. Please share a different number."
	textForeignContact     = "Please share your own contact using the button below."
	textGreeting           = "Hello, %s!"
	textUsage              = "Just write your question here, text or photo, and our team will answer you in this chat."
	textRegistrationFailed = "Sorry, something went wrong. Please try again later with /start."
	textHelp               = "Send us a text message or a photo and an operator will reply here.\n" +
		"/start - link your customer account by phone number\n" +
		"/help - show this message"
	textForwardFailed = "Sorry, we could not pass your message to support. Please try again later."
	textUnsupported   = "Sorry, this content type is not supported. Please send text or a photo."

	textOperatorHelp = "Reply to a forwarded message to answer the customer. Text and photos are delivered.\n" +
		"Ban/Unban blocks or restores the sender.\n" +
		"Unanswered/Answered marks the conversation state."
	textNotDelivered        = "Could not deliver the reply to the user."
	textUnknownMessage      = "This message is not linked to any user."
	textUnknownAction       = "Unknown action."
	textUnsupportedOperator = "Only text and photos can be relayed to users."

	textSignatureCustomer  = "<b>%s</b>, phone %s"
	textSignatureAnonymous = "Anonymous: <b>%s</b> (id %d)"
)
