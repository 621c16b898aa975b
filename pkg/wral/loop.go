package wral

import "time"

// loop is the log's single writer thread. It owns w.current/w.journals/
// w.nextSeqno outright; no other goroutine touches them except through
// w.mu, which loop holds while it appends a batch (and rotates, if due)
// and while it closes out the log, so concurrent Iter/Range calls never
// race with an in-progress append.
//
// Each pass: block for either an AddOp or a Commit request, or a
// 2-second timeout; drain whatever else is already queued without
// blocking; append everything collected to the working journal in one
// batch; fsync if the batch was forced, asked for, idle too long, or
// over the configured byte limit; reply to every waiting caller; rotate
// the working journal if it has grown past JournalLimit. Grounded on
// journals.rs's MainLoop::run.
func (w *Wal[S]) loop() {
	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	var adds []addRequest
	var commits []commitRequest
	lastFlush := time.Now()

	finish := func() {
		w.mu.Lock()
		w.finalSeqno = w.nextSeqno - 1
		if cerr := w.current.closeFile(); cerr != nil && w.finalErr == nil {
			w.finalErr = cerr
		}
		w.mu.Unlock()
		close(w.done)
	}

	for {
		adds = adds[:0]
		commits = commits[:0]

		closed := false
		select {
		case req, ok := <-w.reqs:
			if !ok {
				closed = true
			} else {
				adds = append(adds, req)
			}
		case req, ok := <-w.commits:
			if !ok {
				closed = true
			} else {
				commits = append(commits, req)
			}
		case <-timer.C:
		}

		if closed {
			w.flushBatch(adds, commits, true)
			finish()
			return
		}

	drain:
		for {
			select {
			case req, ok := <-w.reqs:
				if !ok {
					closed = true
					break drain
				}
				adds = append(adds, req)
			case req, ok := <-w.commits:
				if !ok {
					closed = true
					break drain
				}
				commits = append(commits, req)
			default:
				break drain
			}
		}

		batchBytes := 0
		for _, r := range adds {
			batchBytes += len(r.op)
		}
		fsync := w.config.Fsync ||
			len(commits) > 0 ||
			time.Since(lastFlush) > flushInterval ||
			batchBytes > w.config.JournalLimit

		w.flushBatch(adds, commits, fsync)
		if fsync {
			lastFlush = time.Now()
		}

		if closed {
			finish()
			return
		}
		timer.Reset(flushInterval)
	}
}

// flushBatch assigns seqnos to adds, appends them to the working journal,
// flushes (optionally fsyncing), rotates if the journal has outgrown
// JournalLimit, and replies to every caller in adds and commits.
func (w *Wal[S]) flushBatch(adds []addRequest, commits []commitRequest, fsync bool) {
	w.mu.Lock()

	seqnos := make([]uint64, len(adds))
	for i, r := range adds {
		seqnos[i] = w.nextSeqno
		w.nextSeqno++
		w.current.addEntry(Entry{Seqno: seqnos[i], Op: r.op})
	}

	_, err := w.current.flush(fsync)

	if err == nil {
		if size, serr := w.current.fileSize(); serr == nil && size > int64(w.config.JournalLimit) {
			w.rotateLocked()
		}
	}

	lastSeqno := w.nextSeqno - 1
	w.mu.Unlock()

	for i, r := range adds {
		if err != nil {
			r.resp <- addResponse{0, err}
		} else {
			r.resp <- addResponse{seqnos[i], nil}
		}
	}
	for _, c := range commits {
		c.resp <- addResponse{lastSeqno, err}
	}
}

// rotateLocked archives the current journal and opens a fresh one
// carrying its state forward. Caller must hold w.mu. Grounded on
// journals.rs's rotate, which requires the outgoing journal have no
// unflushed entries, guaranteed here since rotateLocked only ever runs
// right after a successful flush. The archived journal is fsynced and its
// file handle released immediately since entriesInRange always reopens by
// path.
func (w *Wal[S]) rotateLocked() {
	archived := w.current
	num := archived.num + 1
	archived.syncFile()
	archived.closeFile()
	w.journals = append(w.journals, archived)
	w.current = startJournal[S](w.config.Dir, w.config.Name, num, archived.state)
	w.current.metrics = w.metrics
	if w.metrics != nil {
		w.metrics.IncRotation()
	}
}
