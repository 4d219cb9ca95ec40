package job

// Operation is a user-requested lifecycle command.
type Operation string

const (
	OpStart    Operation = "start"
	OpPause    Operation = "pause"
	OpResume   Operation = "resume"
	OpStop     Operation = "stop"
	OpCancel   Operation = "cancel"
	OpDelete   Operation = "delete"
	OpEnable   Operation = "enable"
	OpDisable  Operation = "disable"
	OpRestore  Operation = "restore"
	OpDownload Operation = "download"
)

// Canonical folds synonymous operations onto a single name. cancel and stop
// are the same backend effect and always map to stop.
func Canonical(op Operation) Operation {
	if op == OpCancel {
		return OpStop
	}
	return op
}

// transitions maps each run-changing operation to the statuses it is legal
// from and the status it moves the job toward.
var transitions = map[Operation]struct {
	from   []Status
	target Status
}{
	OpStart:  {from: []Status{StatusPending}, target: StatusRunning},
	OpPause:  {from: []Status{StatusRunning}, target: StatusPaused},
	OpResume: {from: []Status{StatusPaused}, target: StatusRunning},
	OpStop:   {from: []Status{StatusRunning, StatusPaused}, target: StatusCancelled},
}

// kindOperations lists the operations each resource family exposes.
var kindOperations = map[Kind][]Operation{
	KindTask:          {OpStart, OpPause, OpResume, OpStop, OpCancel, OpDelete, OpDownload},
	KindScheduledTask: {OpEnable, OpDisable, OpDelete},
	KindBackup:        {OpRestore, OpDownload, OpDelete},
}

// Target returns the status a transition moves a job toward. The second
// value is false for operations that do not change run status (delete,
// enable, disable, restore, download).
func Target(op Operation) (Status, bool) {
	t, ok := transitions[Canonical(op)]
	if !ok {
		return "", false
	}
	return t.target, true
}

// Allowed reports whether op may be offered for a job of the given kind in
// the given status. The backend remains the final judge: a request the
// client considers legal can still be rejected, for example when a
// concurrent caller already moved the job.
func Allowed(kind Kind, status Status, op Operation) bool {
	if !exposes(kind, op) {
		return false
	}

	switch kind {
	case KindTask:
		switch Canonical(op) {
		case OpDelete:
			return status.Settled()
		case OpDownload:
			return status == StatusCompleted
		}
		t := transitions[Canonical(op)]
		for _, s := range t.from {
			if s == status {
				return true
			}
		}
		return false

	case KindScheduledTask:
		// Enabling only gates future firings, so it is independent of the
		// last run. The definition cannot be removed mid-run.
		if op == OpDelete {
			return !status.Active()
		}
		return true

	case KindBackup:
		switch op {
		case OpRestore, OpDownload:
			return status == StatusCompleted
		case OpDelete:
			return status.Settled()
		}
	}
	return false
}

// Actions lists the operations that may be offered for a job, in the order
// they are declared for its kind.
func Actions(kind Kind, status Status) []Operation {
	var out []Operation
	for _, op := range kindOperations[kind] {
		if Allowed(kind, status, op) {
			out = append(out, op)
		}
	}
	return out
}

func exposes(kind Kind, op Operation) bool {
	for _, o := range kindOperations[kind] {
		if o == op {
			return true
		}
	}
	return false
}
