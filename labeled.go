package main

// finalizeLabeled implements the labeled-response discriminant (spec §4.F
// step 9): zero replies become a bare ACK, one reply gets the label tag
// attached directly, two or more are wrapped in a labeled-response BATCH.
func finalizeLabeled(u *LocalUser, label string, hasLabel bool, captured []Message) {
	if !hasLabel {
		for _, m := range captured {
			_ = u.maybeQueueMessage(m)
		}
		return
	}

	switch len(captured) {
	case 0:
		ack := Message{Command: "ACK"}
		ack = ack.WithTag("label", label)
		_ = u.maybeQueueMessage(ack)
	case 1:
		m := captured[0].WithTag("label", label)
		_ = u.maybeQueueMessage(m)
	default:
		ref := newBatchRef()
		start := Message{Command: "BATCH", Params: []string{"+" + ref, "labeled-response"}}
		start = start.WithTag("label", label)
		_ = u.maybeQueueMessage(start)
		for _, m := range captured {
			_ = u.maybeQueueMessage(m.WithTag("batch", ref))
		}
		_ = u.maybeQueueMessage(Message{Command: "BATCH", Params: []string{"-" + ref}})
	}
}
