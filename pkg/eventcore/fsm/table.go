package fsm

// reachable lists the legal destinations of each state. Every state may
// return to Uninitialized through reset.
var reachable = map[Kind][]Kind{
	Uninitialized:        {Initializing},
	Initializing:         {WaitingForPermission, Authorized, PermissionDenied, Error, Uninitialized},
	WaitingForPermission: {Authorized, PermissionDenied, Error, Uninitialized},
	PermissionDenied:     {WaitingForPermission, Authorized, Degraded, Error, Uninitialized},
	Authorized:           {FetchingInitialData, WaitingForPermission, PermissionDenied, Error, Uninitialized},
	FetchingInitialData:  {Ready, ProcessingData, Recovering, Degraded, Error, Uninitialized},
	Ready:                {FetchingData, ProcessingData, WaitingForPermission, PermissionDenied, Degraded, Error, Uninitialized},
	FetchingData:         {Ready, ProcessingData, Recovering, Degraded, Error, Uninitialized},
	ProcessingData:       {Ready, Recovering, Degraded, Error, Uninitialized},
	Error:                {Recovering, Degraded, Uninitialized},
	Recovering:           {Ready, FetchingData, ProcessingData, Degraded, Error, Uninitialized},
	Degraded:             {Recovering, FetchingData, ProcessingData, WaitingForPermission, PermissionDenied, Error, Uninitialized},
}

// CanTransition reports whether to is a legal destination from from.
// Only kinds are compared.
func CanTransition(from, to Kind) bool {
	for _, k := range reachable[from] {
		if k == to {
			return true
		}
	}
	return false
}

// Destinations returns the legal destinations of k.
func Destinations(k Kind) []Kind {
	return append([]Kind(nil), reachable[k]...)
}
