package main

import "strings"

// availableCaps is the set this server advertises (spec §4.C). Values
// hold the CAP LS parameter string (empty for valueless caps).
func availableCaps(c *LocalClient) map[string]string {
	caps := map[string]string{
		"multi-prefix":        "",
		"userhost-in-names":   "",
		"server-time":         "",
		"echo-message":        "",
		"batch":                "",
		"message-tags":        "",
		"labeled-response":    "",
		"setname":             "",
		"away-notify":         "",
		"account-notify":      "",
		"extended-join":       "",
		"invite-notify":       "",
		"chghost":              "",
		"monitor":             "100",
		"cap-notify":          "",
		"account-tag":         "",
		"draft/multiline":     "max-bytes=40000,max-lines=100",
		"draft/chathistory":   "",
		"draft/event-playback": "",
	}
	if c.Catbox.Config.Extra.AccountRegistration.Enabled {
		flags := []string{}
		if c.Catbox.Config.Extra.AccountRegistration.CustomAccountName {
			flags = append(flags, "custom-account-name")
		}
		if c.Catbox.Config.Extra.AccountRegistration.BeforeConnect {
			flags = append(flags, "before-connect")
		}
		if c.Catbox.Config.Extra.AccountRegistration.EmailRequired {
			flags = append(flags, "email-required")
		}
		caps["draft/account-registration"] = strings.Join(flags, ",")
	}
	if c.isTLS() {
		mechs := "PLAIN"
		if c.Conn.CertificateFingerprint() != "" {
			mechs += ",EXTERNAL"
		}
		caps["sasl"] = mechs
	} else {
		caps["tls"] = ""
		if allowPlaintextSaslPlain {
			caps["sasl"] = "PLAIN"
		}
	}
	return caps
}

// allowPlaintextSaslPlain corresponds to the spec's
// allow_plaintext_sasl_plain config flag; defaulted false (PLAIN refused
// on plaintext) per §4.C.
var allowPlaintextSaslPlain = false

func handleCap(c *LocalClient, m Message) {
	sub, ok := m.Arg(0)
	if !ok {
		return
	}
	switch strings.ToUpper(sub) {
	case "LS":
		handleCapLS(c, m)
	case "LIST":
		handleCapList(c)
	case "REQ":
		handleCapReq(c, m)
	case "END":
		handleCapEnd(c)
	}
}

func handleCapLS(c *LocalClient, m Message) {
	if c.Session.Unreg != nil {
		c.Session.Unreg.CapNegotiating = true
		c.Session.Unreg.CapVersion = 301
		if v, ok := m.Arg(1); ok && v == "302" {
			c.Session.Unreg.CapVersion = 302
			c.Session.Capabilities["cap-notify"] = struct{}{}
		}
	}

	caps := availableCaps(c)
	tokens := make([]string, 0, len(caps))
	for k, v := range caps {
		if v != "" {
			tokens = append(tokens, k+"="+v)
		} else {
			tokens = append(tokens, k)
		}
	}

	// Split into continuation lines so no line exceeds 510 payload bytes
	// (spec §4.C), packed by actual serialized length.
	lines := packCapLines(tokens, MaxLineLength-len(c.Catbox.Config.ServerName)-len(" CAP * LS :\r\n")-20)
	for i, line := range lines {
		star := "*"
		if i == len(lines)-1 {
			star = ""
		}
		params := []string{"*", "LS"}
		if star != "" {
			params = append(params, star)
		}
		params = append(params, line)
		_ = c.messageFromServer("CAP", params)
	}
}

func packCapLines(tokens []string, budget int) []string {
	if budget < 40 {
		budget = 400
	}
	var lines []string
	var cur []string
	curLen := 0
	for _, t := range tokens {
		add := len(t)
		if len(cur) > 0 {
			add++ // space
		}
		if curLen+add > budget && len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
			curLen = 0
			add = len(t)
		}
		cur = append(cur, t)
		curLen += add
	}
	if len(cur) > 0 || len(lines) == 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	return lines
}

func handleCapList(c *LocalClient) {
	tokens := make([]string, 0, len(c.Session.Capabilities))
	for k := range c.Session.Capabilities {
		tokens = append(tokens, k)
	}
	_ = c.messageFromServer("CAP", []string{"*", "LIST", strings.Join(tokens, " ")})
}

func handleCapReq(c *LocalClient, m Message) {
	req, ok := m.Arg(1)
	if !ok {
		return
	}
	tokens := strings.Fields(req)
	available := availableCaps(c)

	for _, t := range tokens {
		name := strings.TrimPrefix(t, "-")
		if _, known := available[name]; !known {
			_ = c.messageFromServer("CAP", []string{"*", "NAK", req})
			return
		}
	}

	for _, t := range tokens {
		if strings.HasPrefix(t, "-") {
			delete(c.Session.Capabilities, t[1:])
			continue
		}
		c.Session.Capabilities[t] = struct{}{}
		if t == "sasl" {
			// enabling sasl implies nothing extra; cap-notify handled at LS 302.
		}
	}

	if c.Session.Unreg != nil && c.Session.Unreg.CapVersion >= 302 {
		c.Session.Capabilities["cap-notify"] = struct{}{}
	}

	_ = c.messageFromServer("CAP", []string{"*", "ACK", req})
}

func handleCapEnd(c *LocalClient) {
	if c.Session.Unreg == nil {
		return
	}
	c.Session.Unreg.CapNegotiating = false
	if c.canRegister() {
		c.registerUser()
	}
}
