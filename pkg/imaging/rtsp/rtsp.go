// Package rtsp is a demonstration FrameSource: an RTSP/1.0 client that
// performs the DESCRIBE/SETUP/PLAY handshake over TCP and reads the
// resulting interleaved RTP stream, handing each packet's payload to
// imaging.Client as a Frame. It is not a claim about the real device's
// own streaming protocol — only a worked example that imaging.Client's
// pipeline can sit in front of any frame origin, not just the device's
// binary channel.
package rtsp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/astrophotograph/scopinator/pkg/imaging"
	"github.com/astrophotograph/scopinator/pkg/wire"
)

// Source is an imaging.FrameSource backed by one RTSP session.
type Source struct {
	url    string
	logger *slog.Logger

	conn    net.Conn
	reader  *bufio.Reader
	session string
	cseq    int
	baseURL string
	track   *track

	writeMu sync.Mutex
	frames  chan *imaging.Frame
	nextID  uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type track struct {
	channel     byte
	control     string
	payloadType uint8
}

// New creates a Source targeting rtspURL. logger may be nil.
func New(rtspURL string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{
		url:    rtspURL,
		logger: logger,
		frames: make(chan *imaging.Frame, 32),
	}
}

// Connect performs OPTIONS/DESCRIBE/SETUP/PLAY and starts the packet
// read loop. Satisfies imaging.FrameSource.
func (s *Source) Connect(ctx context.Context) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}

	port := u.Port()
	if port == "" {
		port = "554"
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	s.conn = conn
	s.reader = bufio.NewReaderSize(conn, 65536)

	if _, err := s.do(s.newRequest("OPTIONS", s.url)); err != nil {
		return fmt.Errorf("OPTIONS: %w", err)
	}
	if err := s.describe(); err != nil {
		return fmt.Errorf("DESCRIBE: %w", err)
	}
	if err := s.setup(); err != nil {
		return fmt.Errorf("SETUP: %w", err)
	}
	if err := s.play(); err != nil {
		return fmt.Errorf("PLAY: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.readLoop(readCtx)

	return nil
}

// Frames satisfies imaging.FrameSource.
func (s *Source) Frames() <-chan *imaging.Frame {
	return s.frames
}

// Close tears down the session. Satisfies imaging.FrameSource.
func (s *Source) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.conn != nil {
		req := s.newRequest("TEARDOWN", s.url)
		_ = s.writeRequest(req)
		err = s.conn.Close()
	}
	if s.done != nil {
		<-s.done
	}
	close(s.frames)
	return err
}

func (s *Source) describe() error {
	req := s.newRequest("DESCRIBE", s.url)
	req.header["Accept"] = "application/sdp"
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	if base := resp.header["Content-Base"]; base != "" {
		s.baseURL = strings.TrimSpace(base)
	} else {
		s.baseURL = s.url
	}
	return s.parseSDP(string(resp.body))
}

// parseSDP extracts the first video track's control attribute. Only
// one track is carried through; a real deployment would fan out
// per-track.
func (s *Source) parseSDP(sdp string) error {
	var current *track
	var channelID byte
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "m=video"):
			parts := strings.Fields(line)
			var pt uint8
			if len(parts) >= 4 {
				if v, err := strconv.Atoi(parts[3]); err == nil {
					pt = uint8(v)
				}
			}
			current = &track{channel: channelID, payloadType: pt}
			s.track = current
			channelID += 2
		case strings.HasPrefix(line, "a=control:") && current != nil:
			current.control = strings.TrimPrefix(line, "a=control:")
		}
	}
	if s.track == nil {
		return errors.New("rtsp: no video track in SDP")
	}
	return nil
}

func (s *Source) setup() error {
	u, _ := url.Parse(s.baseURL)
	control := s.track.control
	if !strings.HasPrefix(control, "rtsp://") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(control, "/")
		control = u.String()
	}

	req := s.newRequest("SETUP", control)
	req.header["Transport"] = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", s.track.channel, s.track.channel+1)
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	if session := resp.header["Session"]; session != "" {
		if idx := strings.IndexByte(session, ';'); idx > 0 {
			s.session = session[:idx]
		} else {
			s.session = session
		}
	}
	return nil
}

func (s *Source) play() error {
	playURL := s.baseURL
	if u, err := url.Parse(playURL); err == nil && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		playURL = u.String()
	}
	req := s.newRequest("PLAY", playURL)
	req.header["Range"] = "npt=0.000-"
	return s.writeRequest(req)
}

// readLoop demultiplexes the interleaved '$'-channel stream: RTP
// packets on the video channel become Frames, everything else
// (RTCP, stray RTSP responses from a PLAY that doesn't wait for one) is
// discarded.
func (s *Source) readLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))

		head, err := s.reader.Peek(4)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Debug("rtsp: peek failed", "error", err)
			return
		}

		if head[0] != '$' {
			if string(head) == "RTSP" {
				if _, err := s.readResponse(); err != nil {
					s.logger.Debug("rtsp: interleaved response read failed", "error", err)
					return
				}
				continue
			}
			s.reader.ReadByte()
			continue
		}

		channel := head[1]
		size := binary.BigEndian.Uint16(head[2:4])
		if _, err := s.reader.Discard(4); err != nil {
			return
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(s.reader, payload); err != nil {
			return
		}

		if channel != s.track.channel {
			continue // RTCP or another track's channel
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(payload); err != nil {
			s.logger.Debug("rtsp: bad rtp packet", "error", err)
			continue
		}

		s.nextID++
		frame := &imaging.Frame{
			ID:        s.nextID,
			Kind:      wire.FramePreview,
			Timestamp: time.Now(),
			Payload:   packet.Payload,
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

type request struct {
	method string
	url    string
	header map[string]string
}

type response struct {
	status int
	header map[string]string
	body   []byte
}

func (s *Source) newRequest(method, url string) *request {
	s.cseq++
	return &request{method: method, url: url, header: make(map[string]string)}
}

func (s *Source) do(req *request) (*response, error) {
	if err := s.writeRequest(req); err != nil {
		return nil, err
	}
	return s.readResponse()
}

func (s *Source) writeRequest(req *request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.session != "" {
		req.header["Session"] = s.session
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s RTSP/1.0\r\n", req.method, req.url)
	fmt.Fprintf(&buf, "CSeq: %d\r\n", s.cseq)
	for k, v := range req.header {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")

	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.conn.Write([]byte(buf.String()))
	return err
}

func (s *Source) readResponse() (*response, error) {
	s.conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	statusLine, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("rtsp: invalid status line %q", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("rtsp: invalid status code %q", parts[1])
	}

	resp := &response{status: status, header: make(map[string]string)}
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			resp.header[key] = val
			if key == "Content-Length" {
				contentLength, _ = strconv.Atoi(val)
			}
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(s.reader, body); err != nil {
			return nil, err
		}
		resp.body = body
	}
	if status != 200 {
		return nil, fmt.Errorf("rtsp: status %d", status)
	}
	return resp, nil
}

var _ imaging.FrameSource = (*Source)(nil)
