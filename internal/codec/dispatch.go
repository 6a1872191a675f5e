package codec

import (
	"fmt"
	"strings"
)

// SelectLayout picks the layout matching an observed frame. Notification
// frames match on characteristic UUID plus length; advertisement frames on
// the leading type byte plus length. Returns ErrUnknownPacketKind when no
// registered layout fits; callers drop and count such frames, never abort.
func SelectLayout(layouts []Layout, ev RawEvent) (*Layout, error) {
	for i := range layouts {
		if layouts[i].matches(ev) {
			return &layouts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: source=%s char=%s len=%d",
		ErrUnknownPacketKind, ev.Source, ev.CharUUID, len(ev.Payload))
}

func (l *Layout) matches(ev RawEvent) bool {
	if len(ev.Payload) != l.Length {
		return false
	}
	if ev.Source == SourceNotification {
		return l.CharUUID != "" && strings.EqualFold(l.CharUUID, ev.CharUUID)
	}
	return l.CharUUID == "" && len(ev.Payload) > 0 && ev.Payload[0] == l.TypeByte
}
