package domain

// CallKind distinguishes the media a call session negotiates.
type CallKind string

const (
	CallAudio       CallKind = "audio"
	CallVideo       CallKind = "video"
	CallScreenshare CallKind = "screenshare"
)

// CallKinds lists every kind in lookup order.
var CallKinds = []CallKind{CallAudio, CallVideo, CallScreenshare}

func (k CallKind) Valid() bool {
	switch k {
	case CallAudio, CallVideo, CallScreenshare:
		return true
	}
	return false
}
