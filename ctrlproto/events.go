package ctrlproto

// NewEvent builds a header-only fan-out message: type EVENT, result
// set to the event kind, cookie to the error code, per spec section
// 4.F. serviceID, if non-empty, is returned as the body, with
// FlagUseServiceID set and Link and Len holding its length; otherwise
// the message is header-only.
func NewEvent(eventKind uint32, errorCode uint32, serviceID string) (Header, []byte) {
	h := Header{
		Type:   TypeEvent,
		Result: eventKind,
		Cookie: errorCode,
	}
	if serviceID == "" {
		return h, nil
	}
	h.Flags |= FlagUseServiceID
	h.Link = uint32(len(serviceID))
	h.Len = h.Link
	return h, []byte(serviceID)
}

// NoReply reports whether a reply header represents "no reply sent",
// the sentinel used for privileged fire-and-forget messages.
func NoReply(h Header) bool { return h.Len == ReplySentinel }

// FireAndForget builds the sentinel reply header for privileged
// one-way message types (PPPD_EVENT/PPPD_STATUS/PPPD_PHASE).
func FireAndForget() Header {
	return Header{Len: ReplySentinel}
}
