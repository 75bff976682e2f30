package smtp

// Known reply codes from §4.B. Unrecognised codes within a valid class
// still round-trip correctly through Response since Code is a plain
// uint16 rather than a closed enumeration.
const (
	CodeSystemStatus       = 211
	CodeHelpMessage        = 214
	CodeServiceReady       = 220
	CodeServiceClosing     = 221
	CodeOK                 = 250
	CodeUserNotLocal       = 251
	CodeCannotVerify       = 252
	CodeStartMailInput     = 354
	CodeServiceUnavailable = 421
	CodeMailboxBusy        = 450
	CodeLocalError         = 451
	CodeInsufficientStore  = 452
	CodeUnableToAccommodate = 455
	CodeSyntaxError        = 500
	CodeArgSyntaxError     = 501
	CodeCommandNotImplemented = 502
	CodeBadSequence        = 503
	CodeParamNotImplemented = 504
	CodeMailboxUnavailable = 550
	CodeUserNotLocalForward = 551
	CodeExceededStorage    = 552
	CodeMailboxNameInvalid = 553
	CodeTransactionFailed  = 554
	CodeMAILorRCPTSyntax   = 555
)
