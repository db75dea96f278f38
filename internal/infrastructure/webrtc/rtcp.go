package webrtc

import (
	"github.com/pion/rtcp"
	"go.uber.org/zap"
)

// readRTCP drains a receiver's or sender's RTCP until read fails. A BYE from
// the peer ends the loop after calling onGoodbye.
func readRTCP(read func([]byte) (int, error), stats StatsSink, logger *zap.SugaredLogger, onGoodbye func()) {
	buf := packetBuffers.Get()
	defer packetBuffers.Put(buf)

	for {
		n, err := read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			logger.Debugw("dropping malformed RTCP", "error", err)
			continue
		}
		if processRTCPPackets(packets, stats, logger) {
			onGoodbye()
			return
		}
	}
}

// processRTCPPackets logs feedback from a peer and reports reception
// quality to stats. It reports whether the peer said goodbye.
func processRTCPPackets(packets []rtcp.Packet, stats StatsSink, logger *zap.SugaredLogger) bool {
	goodbye := false
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				stats.ReceiverReport(float64(report.FractionLost)/256, report.Jitter)
				logger.Debugw("receiver report",
					"ssrc", report.SSRC,
					"fraction_lost", report.FractionLost,
					"total_lost", report.TotalLost,
					"jitter", report.Jitter,
				)
			}
		case *rtcp.SenderReport:
			logger.Debugw("sender report",
				"ssrc", p.SSRC,
				"packet_count", p.PacketCount,
				"octet_count", p.OctetCount,
			)
		case *rtcp.TransportLayerNack:
			logger.Debugw("nack received",
				"media_ssrc", p.MediaSSRC,
				"nacks", len(p.Nacks),
			)
		case *rtcp.Goodbye:
			logger.Debugw("goodbye received", "sources", p.Sources)
			goodbye = true
		}
	}
	return goodbye
}
