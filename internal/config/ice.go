package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	EnvICEServersJSON = "PONG_ICE_SERVERS_JSON"

	EnvStunURLs       = "PONG_STUN_URLS"
	EnvTurnURLs       = "PONG_TURN_URLS"
	EnvTurnUsername   = "PONG_TURN_USERNAME"
	EnvTurnCredential = "PONG_TURN_CREDENTIAL"
)

// DefaultSTUNURL is used when no ICE servers are configured at all.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// iceSchemes maps each accepted URL scheme to whether it needs credentials.
var iceSchemes = map[string]bool{
	"stun":  false,
	"stuns": false,
	"turn":  true,
	"turns": true,
}

// isAllowedICEScheme reports whether u has a scheme listed in iceSchemes.
func isAllowedICEScheme(u string) bool {
	scheme, _, found := strings.Cut(u, ":")
	_, ok := iceSchemes[strings.ToLower(scheme)]
	return ok && found
}

// iceServersFromEnv prefers the JSON form and falls back to the
// convenience variables, then to DefaultSTUNURL.
func iceServersFromEnv(env *envReader) ([]webrtc.ICEServer, error) {
	if raw, ok := env.raw(EnvICEServersJSON); ok {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvICEServersJSON, err)
		}
		return servers, nil
	}

	servers, err := ParseICEServersFromConvenienceEnv(
		env.str(EnvStunURLs, ""),
		env.str(EnvTurnURLs, ""),
		env.str(EnvTurnUsername, ""),
		env.str(EnvTurnCredential, ""),
	)
	if err != nil || len(servers) > 0 {
		return servers, err
	}
	return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}, nil
}

// urlList accepts the RTCIceServer urls member, a string or a list, and
// drops blank entries.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		var one string
		if json.Unmarshal(b, &one) != nil {
			return err
		}
		many = []string{one}
	}
	*l = urlList(splitCommaSeparated(strings.Join(many, ",")))
	return nil
}

// ParseICEServersJSON parses the browser RTCIceServer array format.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, len(entries))
	for i, e := range entries {
		servers[i] = iceServer(e.URLs, e.Username, e.Credential)
	}
	if err := ValidateICEServers(servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN
// entry from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		s := iceServer(urls, "", "")
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvStunURLs, err)
		}
		servers = append(servers, s)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		s := iceServer(urls, turnUsername, turnCredential)
		if s.Username == "" || s.Credential == nil {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", EnvTurnUsername, EnvTurnCredential, EnvTurnURLs)
		}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTurnURLs, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// iceServer leaves Credential nil when blank so STUN entries carry none.
func iceServer(urls []string, username, credential string) webrtc.ICEServer {
	s := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(username)}
	if c := strings.TrimSpace(credential); c != "" {
		s.Credential = c
	}
	return s
}

func validateICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}
	needsCreds := false
	for _, u := range s.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			return errors.New("urls must not contain empty entries")
		}
		scheme, _, _ := strings.Cut(u, ":")
		creds, ok := iceSchemes[strings.ToLower(scheme)]
		if !ok || scheme == u {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
		needsCreds = needsCreds || creds
	}
	if !needsCreds {
		return nil
	}
	if strings.TrimSpace(s.Username) == "" {
		return errors.New("turn urls require username")
	}
	if c, ok := s.Credential.(string); !ok || strings.TrimSpace(c) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

// ValidateICEServers applies the env parsers' checks to a list obtained
// elsewhere, e.g. from the relay.
func ValidateICEServers(servers []webrtc.ICEServer) error {
	for i, s := range servers {
		if err := validateICEServer(s); err != nil {
			return fmt.Errorf("iceServers[%d]: %w", i, err)
		}
	}
	return nil
}
