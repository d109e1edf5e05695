package status

//BatchStatus status of job or step execution
type BatchStatus string

const (
	//STARTING represent beginning of a job or step execution
	STARTING BatchStatus = "STARTING"
	//STARTED job or step have be started and is running
	STARTED BatchStatus = "STARTED"
	//STOPPING job or step to be stopped
	STOPPING BatchStatus = "STOPPING"
	//STOPPED job or step have be stopped
	STOPPED BatchStatus = "STOPPED"
	//COMPLETED job or step have finished successfully
	COMPLETED BatchStatus = "COMPLETED"
	//FAILED job or step have failed
	FAILED BatchStatus = "FAILED"
	//UNKNOWN job or step have aborted due to unknown reason
	UNKNOWN BatchStatus = "UNKNOWN"
)

// severity order used by And, a higher value wins
var severities = map[BatchStatus]int{
	COMPLETED: 0,
	STARTING:  1,
	STARTED:   2,
	STOPPING:  3,
	STOPPED:   4,
	FAILED:    5,
	UNKNOWN:   6,
}

//And combine two statuses, the more severe one wins
func (s BatchStatus) And(other BatchStatus) BatchStatus {
	i1, ok1 := severities[s]
	i2, ok2 := severities[other]
	switch {
	case ok1 && ok2:
		if i1 < i2 {
			return other
		}
		return s
	case ok1:
		return s
	default:
		return other
	}
}

//IsRunning the execution has been created and has not reached a terminal status
func (s BatchStatus) IsRunning() bool {
	return s == STARTING || s == STARTED || s == STOPPING
}

//IsTerminal the execution will not change its status anymore
func (s BatchStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED || s == STOPPED
}

//IsRestartable a new execution can resume from an execution with this status
func (s BatchStatus) IsRestartable() bool {
	return s == FAILED || s == STOPPED
}

func (s BatchStatus) String() string {
	return string(s)
}
