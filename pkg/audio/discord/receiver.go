package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/podbot/pkg/audio"
)

var _ audio.Source = (*Receiver)(nil)

const frameChannelBuffer = 256

// Receiver wraps a discordgo.VoiceConnection and adapts it to [audio.Source].
// Every received Opus packet is stamped with the wall-clock time of arrival
// and attributed to the user that owns its SSRC.
//
// Discord announces the SSRC of each user with a speaking update. Packets
// arriving before the announcement are attributed to the decimal SSRC.
//
// Receiver is safe for concurrent use.
type Receiver struct {
	vc *discordgo.VoiceConnection

	frames chan audio.Frame

	usersMu sync.RWMutex
	users   map[uint32]string // SSRC -> userID

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// now stamps received frames. Overridden in tests.
	now func() time.Time
}

// newReceiver starts receiving on an already-joined voice connection.
func newReceiver(vc *discordgo.VoiceConnection) *Receiver {
	r := &Receiver{
		vc:           vc,
		frames:       make(chan audio.Frame, frameChannelBuffer),
		users:        make(map[uint32]string),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		disconnectVC: vc.Disconnect,
		now:          time.Now,
	}
	vc.AddHandler(r.handleSpeakingUpdate)
	go r.recvLoop()
	return r
}

// Frames implements [audio.Source].
func (r *Receiver) Frames() <-chan audio.Frame {
	return r.frames
}

// Close leaves the voice channel and waits for the receive loop to finish.
// The frame channel is closed afterwards. It is safe to call more than once.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.disconnectVC != nil {
			err = r.disconnectVC()
		}
	})
	<-r.stopped
	return err
}

// UserID returns the user owning ssrc, or the decimal SSRC when no speaking
// update has announced it yet.
func (r *Receiver) UserID(ssrc uint32) string {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	if id, ok := r.users[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// recvLoop forwards packets from the voice connection until the receiver is
// closed or Discord closes OpusRecv.
func (r *Receiver) recvLoop() {
	defer close(r.stopped)
	defer close(r.frames)

	for {
		select {
		case <-r.done:
			return
		case pkt, ok := <-r.vc.OpusRecv:
			if !ok {
				slog.Info("discord: voice receive channel closed")
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			frame := audio.Frame{
				Speaker:    r.UserID(pkt.SSRC),
				Data:       pkt.Opus,
				CapturedAt: r.now(),
			}
			select {
			case r.frames <- frame:
			case <-r.done:
				return
			}
		}
	}
}

// handleSpeakingUpdate records the SSRC a user transmits with.
func (r *Receiver) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)

	r.usersMu.Lock()
	prev, known := r.users[ssrc]
	r.users[ssrc] = vs.UserID
	r.usersMu.Unlock()

	if !known || prev != vs.UserID {
		slog.Debug("discord: speaker announced", "user", vs.UserID, "ssrc", ssrc)
	}
}
