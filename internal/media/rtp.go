package media

import (
	"errors"
	"log/slog"
	"net"

	"github.com/pion/rtp"
)

// pump reads RTP packets from conn and writes them to the track until conn
// is closed. Muted tracks drop packets instead of forwarding them.
func (t *rtpTrack) pump(conn net.PacketConn) {
	buf := make([]byte, rtpMTU)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("media: rtp read failed", "track", t.id, "error", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		t.firstOnce.Do(func() { close(t.firstPacket) })
		if !t.Enabled() {
			continue
		}
		if err := t.local.WriteRTP(&pkt); err != nil {
			slog.Warn("media: rtp write failed", "track", t.id, "error", err)
			return
		}
		t.forwarded.Add(1)
	}
}
