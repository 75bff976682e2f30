package exterrors

// IsTemporaryCode classifies a three-digit SMTP reply code per RFC
// 5321 §4.2.1: 4yz is temporary (transport/resolution failures during
// relay should be retried by a layer above, never inside the client
// FSM itself), 5yz is permanent.
func IsTemporaryCode(code uint16) bool {
	return code/100 == 4
}
