package main

// postRegHandlerFunc is a post-registration client command handler
// (component E post_reg_handlers). emit queues a reply, transparently
// captured for labeled-response finalization by the caller.
type postRegHandlerFunc func(u *LocalUser, m Message, emit func(Message)) error

// clientHandlerFunc handlers (the universal and pre-registration tables)
// operate directly on LocalClient
// since they run identically whether or not registration has completed
// (QUIT, PING, PONG, NICK, CAP) or are only valid before it (USER, PASS,
// WEBIRC, AUTHENTICATE).
type clientHandlerFunc func(c *LocalClient, m Message)

var universalHandlers map[string]clientHandlerFunc
var preRegHandlers map[string]clientHandlerFunc
var serverHandshakeHandlers map[string]clientHandlerFunc
var postRegHandlers map[string]postRegHandlerFunc

// postRegOnlyCommands/preRegOnlyCommands classify a command name as
// belonging exclusively to one phase, used to pick between
// ERR_NOTREGISTERED (451) and ERR_ALREADYREGISTERED (462) for a command
// that exists but isn't valid in the caller's current phase (component E
// dispatch_pre_reg/dispatch_post_reg).
var postRegOnlyCommands map[string]struct{}
var preRegOnlyCommands map[string]struct{}

func init() {
	universalHandlers = map[string]clientHandlerFunc{
		"QUIT": handleQuitUniversal,
		"PING": handlePingUniversal,
		"PONG": handlePongUniversal,
		"NICK": handleNickUniversal,
		"CAP":  handleCapUniversal,
	}

	preRegHandlers = map[string]clientHandlerFunc{
		"USER":         handleUserPreReg,
		"PASS":         handlePassPreReg,
		"WEBIRC":       handleWebircPreReg,
		"AUTHENTICATE": handleAuthenticatePreReg,
	}

	serverHandshakeHandlers = map[string]clientHandlerFunc{
		"PASS":   handlePassServer,
		"CAPAB":  handleCapabServer,
		"SERVER": handleServerServer,
		"SVINFO": handleSvinfoServer,
		"ERROR":  handleErrorServer,
	}

	postRegHandlers = map[string]postRegHandlerFunc{
		"JOIN":        cmdJoin,
		"PART":        cmdPart,
		"TOPIC":       cmdTopic,
		"NAMES":       cmdNames,
		"LIST":        cmdList,
		"MODE":        cmdMode,
		"KICK":        cmdKick,
		"INVITE":      cmdInvite,
		"KNOCK":       cmdKnock,
		"CYCLE":       cmdCycle,
		"PRIVMSG":     cmdPrivmsg,
		"NOTICE":      cmdNotice,
		"TAGMSG":      cmdTagmsg,
		"WHO":         cmdWho,
		"WHOIS":       cmdWhois,
		"WHOWAS":      cmdWhowas,
		"USERHOST":    cmdUserhost,
		"ISON":        cmdIson,
		"AWAY":        cmdAway,
		"SETNAME":     cmdSetname,
		"SILENCE":     cmdSilence,
		"MONITOR":     cmdMonitor,
		"BATCH":       cmdBatch,
		"CHATHISTORY": cmdChathistory,
		"REGISTER":    cmdRegister,
		"NICKSERV":    cmdNickserv,
		"NS":          cmdNickserv,
		"CHANSERV":    cmdChanserv,
		"CS":          cmdChanserv,
		"SQUERY":      cmdSquery,
		"OPER":        cmdOper,
		"KILL":        cmdKill,
		"WALLOPS":     cmdWallops,
		"GLOBOPS":     cmdGlobops,
		"DIE":         cmdDie,
		"REHASH":      cmdRehash,
		"RESTART":     cmdRestart,
		"CHGHOST":     cmdChghost,
		"CHGIDENT":    cmdChgident,
		"VHOST":       cmdVhost,
		"TRACE":       cmdTrace,
		"KLINE":       cmdKline,
		"UNKLINE":     cmdUnkline,
		"DLINE":       cmdDline,
		"UNDLINE":     cmdUndline,
		"GLINE":       cmdGline,
		"UNGLINE":     cmdUngline,
		"ZLINE":       cmdZline,
		"UNZLINE":     cmdUnzline,
		"RLINE":       cmdRline,
		"UNRLINE":     cmdUnrline,
		"SHUN":        cmdShun,
		"UNSHUN":      cmdUnshun,
		"STATS":       cmdStats,
		"LUSERS":      cmdLusers,
		"VERSION":     cmdVersion,
		"TIME":        cmdTime,
		"ADMIN":       cmdAdmin,
		"INFO":        cmdInfo,
		"MOTD":        cmdMotd,
		"MAP":         cmdMap,
		"RULES":       cmdRules,
		"USERIP":      cmdUserip,
		"LINKS":       cmdLinks,
		"HELP":        cmdHelp,
		"SERVICE":     cmdService,
		"SERVLIST":    cmdServlist,
		"CONNECT":     cmdConnect,
		"SQUIT":       cmdSquit,
		"SUMMON":      cmdSummon,
		"USERS":       cmdUsers,
		"SAJOIN":      cmdSajoin,
		"SAPART":      cmdSapart,
		"SAMODE":      cmdSamode,
		"SANICK":      cmdSanick,
	}

	postRegOnlyCommands = map[string]struct{}{}
	for name := range postRegHandlers {
		postRegOnlyCommands[name] = struct{}{}
	}

	preRegOnlyCommands = map[string]struct{}{
		"USER": {},
		"PASS": {},
	}
}
