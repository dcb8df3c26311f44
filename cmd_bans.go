package main

import (
	"fmt"
	"strconv"
	"time"
)

// cmdKline and its *LINE/UN*LINE siblings below are thin, oper-gated
// wrappers over BanStore, sharing one implementation keyed by
// parseBanKind(m.Command) (component "connection gating", spec §4.N).
// SHUN is the one kind enforced against already-connected clients rather
// than at CheckConnect time; IsShunned is consulted in the message
// dispatch path instead of here.

func cmdKline(u *LocalUser, m Message, emit func(Message)) error   { return addBan(u, m, emit) }
func cmdDline(u *LocalUser, m Message, emit func(Message)) error   { return addBan(u, m, emit) }
func cmdGline(u *LocalUser, m Message, emit func(Message)) error   { return addBan(u, m, emit) }
func cmdZline(u *LocalUser, m Message, emit func(Message)) error   { return addBan(u, m, emit) }
func cmdRline(u *LocalUser, m Message, emit func(Message)) error   { return addBan(u, m, emit) }
func cmdShun(u *LocalUser, m Message, emit func(Message)) error    { return addBan(u, m, emit) }

func cmdUnkline(u *LocalUser, m Message, emit func(Message)) error { return removeBan(u, m, emit) }
func cmdUndline(u *LocalUser, m Message, emit func(Message)) error { return removeBan(u, m, emit) }
func cmdUngline(u *LocalUser, m Message, emit func(Message)) error { return removeBan(u, m, emit) }
func cmdUnzline(u *LocalUser, m Message, emit func(Message)) error { return removeBan(u, m, emit) }
func cmdUnrline(u *LocalUser, m Message, emit func(Message)) error { return removeBan(u, m, emit) }
func cmdUnshun(u *LocalUser, m Message, emit func(Message)) error  { return removeBan(u, m, emit) }

// addBan implements KLINE/DLINE/GLINE/ZLINE/RLINE/SHUN: <mask>
// [duration-minutes] [:reason].
func addBan(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	kind, ok := parseBanKind(m.Command)
	if !ok {
		return ErrUnknownCommand
	}
	mask, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	var duration time.Duration
	reasonIdx := 1
	if v, ok := m.Arg(1); ok {
		if minutes, err := strconv.Atoi(v); err == nil {
			duration = time.Duration(minutes) * time.Minute
			reasonIdx = 2
		}
	}
	reason := firstOr(m, reasonIdx, "No reason given")

	u.Catbox.Bans.Add(kind, mask, reason, u.User.nickUhost(), duration)
	emit(numericMsg(u, "385", mask, fmt.Sprintf("%s line set", kind.String())))
	u.Catbox.noticeOpers("%s added %s-line for %s: %s", u.User.nickUhost(), kind.String(), mask, reason)
	return nil
}

// removeBan implements UNKLINE/UNDLINE/UNGLINE/UNZLINE/UNRLINE/UNSHUN.
func removeBan(u *LocalUser, m Message, emit func(Message)) error {
	if !u.User.isOperator() {
		emit(numericMsg(u, "481", "Permission Denied- You're not an IRC operator"))
		return nil
	}
	kind, ok := parseBanKind(m.Command)
	if !ok {
		return ErrUnknownCommand
	}
	mask, ok := m.Arg(0)
	if !ok {
		return ErrNeedMoreParams
	}

	if u.Catbox.Bans.Remove(kind, mask) {
		emit(numericMsg(u, "385", mask, fmt.Sprintf("%s line removed", kind.String())))
		u.Catbox.noticeOpers("%s removed %s-line for %s", u.User.nickUhost(), kind.String(), mask)
		return nil
	}
	emit(numericMsg(u, "385", mask, "No such line"))
	return nil
}
