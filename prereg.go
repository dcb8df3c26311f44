package main

// Pre-registration-only commands (component E pre_reg_handlers).

func handleUserPreReg(c *LocalClient, m Message) {
	if c.LocalUser != nil {
		_ = c.messageFromServer("462", []string{"You may not reregister"})
		return
	}
	if len(m.Params) < 4 {
		_ = c.messageFromServer("461", []string{"USER", "Not enough parameters"})
		return
	}

	u := c.Session.Unreg
	if u == nil {
		return
	}

	user := m.Params[0]
	realname := m.Params[3]

	if !isValidUser(12, user) {
		_ = c.messageFromServer("461", []string{"USER", "Invalid username"})
		return
	}
	if !isValidRealName(realname) {
		_ = c.messageFromServer("461", []string{"USER", "Invalid realname"})
		return
	}

	u.User = user
	u.RealName = realname

	if c.canRegister() {
		c.registerUser()
	}
}

func handlePassPreReg(c *LocalClient, m Message) {
	if v, ok := m.Arg(0); ok {
		c.Session.Unreg.PassReceived = v
	}
}

func handleWebircPreReg(c *LocalClient, m Message) {
	// WEBIRC password ip hostname ip (spec §3.1 webirc_ip|host).
	if len(m.Params) < 4 {
		return
	}
	c.Session.Unreg.WebircHost = m.Params[2]
	c.Session.Unreg.WebircIP = m.Params[3]
}
