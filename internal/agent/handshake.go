package agent

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"polar-connector/internal/cloud"
	"polar-connector/internal/identity"
)

type handshakeState int

const (
	stateUnregistered handshakeState = iota
	stateAwaitingChallenge
	stateAwaitingHelloAck
	stateAuthenticated
)

// handshake tracks the challenge-response progression. The challenge is
// written by the welcome handler on the read goroutine and consumed by the
// hello task on the heartbeat goroutine, so both go through the lock.
type handshake struct {
	mu        sync.Mutex
	state     handshakeState
	challenge string
}

func newHandshake() *handshake {
	return &handshake{}
}

func (h *handshake) setChallenge(challenge string) {
	h.mu.Lock()
	h.challenge = challenge
	h.state = stateAwaitingHelloAck
	h.mu.Unlock()
}

func (h *handshake) currentChallenge() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.challenge
}

func (h *handshake) hasChallenge() bool {
	return h.currentChallenge() != ""
}

// authenticated consumes the challenge after a successful hello emission.
func (h *handshake) authenticated() {
	h.mu.Lock()
	h.challenge = ""
	h.state = stateAuthenticated
	h.mu.Unlock()
}

func (h *handshake) serialAssigned() {
	h.mu.Lock()
	if h.state == stateUnregistered {
		h.state = stateAwaitingChallenge
	}
	h.mu.Unlock()
}

// reset drops all handshake progress; called on transport loss.
func (h *handshake) reset() {
	h.mu.Lock()
	h.challenge = ""
	h.state = stateUnregistered
	h.mu.Unlock()
}

// Register produces a signed registration request and emits it. Returns nil
// once the message is on its way; the outcome arrives later as a
// registerResponse.
func (a *Agent) Register(email, pin string) error {
	if err := a.id.EnsureKeys(); err != nil {
		a.log.Error("cannot register: no signing key", "error", err)
		return ErrKeyUnavailable
	}
	publicKey, err := a.id.PublicKeyPEM()
	if err != nil {
		a.log.Error("cannot register: no public key", "error", err)
		return ErrKeyUnavailable
	}
	if a.emit == nil {
		a.log.Error("cannot register: not connected")
		return ErrNotConnected
	}

	a.log.Info("emit register")
	msg := cloud.RegisterRequest{
		Mfg:       "op",
		Email:     email,
		Pin:       pin,
		PublicKey: publicKey,
		MyInfo: cloud.MyInfo{
			MAC:             a.id.MAC(),
			ProtocolVersion: cloud.ProtocolVersion,
		},
	}
	if err := a.emit.Emit("register", msg); err != nil {
		a.log.Error("register emit failed", "error", err)
		return ErrNotConnected
	}
	return nil
}

func (a *Agent) handleRegisterResponse(data json.RawMessage) {
	var resp cloud.RegisterResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		a.log.Warn("malformed registerResponse", "error", err)
		return
	}
	if resp.SerialNumber == "" {
		a.log.Warn("registration failed", "reason", resp.Reason)
		a.notifyObserver(Notification{Command: "registration_failed"})
		return
	}

	a.log.Info("registered", "serial", resp.SerialNumber)
	if err := a.id.SetSerial(resp.SerialNumber); err != nil {
		a.log.Error("failed to persist serial", "error", err)
	}
	a.notifyObserver(Notification{Command: "serial", Serial: resp.SerialNumber})

	// The challenge may have arrived before registration completed; if so the
	// hello can go out now, otherwise we wait for the next welcome.
	if a.hs.hasChallenge() {
		a.queue.Enqueue(a.helloTask)
	} else {
		a.hs.serialAssigned()
	}
}

func (a *Agent) handleWelcome(data json.RawMessage) {
	var w cloud.Welcome
	if err := json.Unmarshal(data, &w); err != nil {
		a.log.Warn("malformed welcome", "error", err)
		return
	}
	if w.Challenge == "" {
		a.log.Warn("welcome without challenge")
		return
	}
	a.log.Debug("welcome received")
	a.hs.setChallenge(w.Challenge)
	a.queue.Enqueue(a.helloTask)
}

// helloTask answers the server challenge. Both a serial and a live challenge
// are required; with either missing this is a silent no-op, covering the case
// where the challenge arrives before registration completes.
func (a *Agent) helloTask() {
	serial := a.id.Serial()
	challenge := a.hs.currentChallenge()
	if serial == "" || challenge == "" {
		a.log.Debug("skip hello", "have_serial", serial != "", "have_challenge", challenge != "")
		return
	}

	signature, err := a.id.Sign([]byte(challenge))
	if err != nil {
		a.log.Warn("hello: challenge signing failed", "error", err)
		return
	}
	msg := cloud.Hello{
		SerialNumber: serial,
		Signature:    base64.StdEncoding.EncodeToString(signature),
		MAC:          a.id.MAC(),
		LocalIP:      identity.LocalIP(),
		Protocol:     cloud.ProtocolVersion,
	}
	if err := a.emit.Emit("hello", msg); err != nil {
		a.log.Warn("hello emit failed", "error", err)
		return
	}
	a.hs.authenticated()
	a.queue.Enqueue(a.ensureIdleUploadURLTask)
}
