package turn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pion/turn/v3"
)

// TURNServer relays media for calls set up over the signaling socket.
// Clients authenticate with short-lived credentials minted by Credentials.
type TURNServer struct {
	server *turn.Server
	realm  string
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time

	logger *slog.Logger
}

type Credentials struct {
	Username string    `json:"username"`
	Password string    `json:"credential"`
	Expires  time.Time `json:"expires"`
}

// Initialize starts a UDP TURN relay on port.
func Initialize(port int, realm string, ttl time.Duration, logger *slog.Logger) (*TURNServer, error) {
	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP listener: %w", err)
	}

	ts := newCredentialIssuer(realm, generateSecret(), ttl, logger)

	relayIP := getPublicIP(logger)
	if relayIP == nil {
		logger.Warn("could not determine public IP, falling back to local address")
		relayIP = getLocalIP(logger)
	}
	logger.Info("TURN relay address", "ip", relayIP.String())

	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       realm,
		AuthHandler: ts.authHandler,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, fmt.Errorf("failed to create TURN server: %w", err)
	}
	ts.server = s

	logger.Info("TURN server initialized", "port", port, "realm", realm)
	return ts, nil
}

func newCredentialIssuer(realm string, secret []byte, ttl time.Duration, logger *slog.Logger) *TURNServer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TURNServer{
		realm:  realm,
		secret: secret,
		ttl:    ttl,
		nowFn:  time.Now,
		logger: logger,
	}
}

// Credentials mints a TURN username/password pair bound to identity.
// The username is "<unix expiry>:<identity>", the password an HMAC of it.
func (ts *TURNServer) Credentials(identity string) Credentials {
	expires := ts.nowFn().Add(ts.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + identity
	return Credentials{
		Username: username,
		Password: ts.password(username),
		Expires:  expires,
	}
}

func (ts *TURNServer) password(username string) string {
	mac := hmac.New(sha1.New, ts.secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (ts *TURNServer) authHandler(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	expiry, _, ok := strings.Cut(username, ":")
	if !ok {
		return nil, false
	}
	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || ts.nowFn().After(time.Unix(unix, 0)) {
		ts.logger.Debug("TURN credentials rejected", "username", username, "src", srcAddr)
		return nil, false
	}
	return turn.GenerateAuthKey(username, realm, ts.password(username)), true
}

func (ts *TURNServer) Close() error {
	if ts.server != nil {
		return ts.server.Close()
	}
	return nil
}

func generateSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return []byte(hex.EncodeToString(b))
}

// getPublicIP asks ipify.org for the address peers should relay through.
func getPublicIP(logger *slog.Logger) net.IP {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		logger.Error("failed to get public IP from ipify.org", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("ipify.org returned unexpected status", "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		logger.Error("failed to read response from ipify.org", "error", err)
		return nil
	}

	return net.ParseIP(strings.TrimSpace(string(body)))
}

func getLocalIP(logger *slog.Logger) net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		logger.Error("failed to determine local IP", "error", err)
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP
}
