package domain

import "time"

// StateExecutionData is the per-state record an instance keeps for every
// state reached in its chain.
type StateExecutionData struct {
	StateName    string          `json:"state_name"`
	StateType    StateType       `json:"state_type"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartTs      time.Time       `json:"start_ts,omitempty"`
	EndTs        time.Time       `json:"end_ts,omitempty"`
	Element      *ContextElement `json:"element,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
}

// ParamMap exposes the record to expressions. Data keys sit next to the
// record's own fields and win on collision.
func (d *StateExecutionData) ParamMap() map[string]any {
	out := make(map[string]any)
	if d == nil {
		return out
	}
	out["stateName"] = d.StateName
	out["stateType"] = string(d.StateType)
	out["status"] = string(d.Status)
	if d.ErrorMessage != "" {
		out["errorMsg"] = d.ErrorMessage
	}
	if d.Element != nil {
		out["element"] = d.Element.ParamMap()
	}
	if !d.StartTs.IsZero() {
		out["startTs"] = d.StartTs.UnixMilli()
	}
	if !d.EndTs.IsZero() {
		out["endTs"] = d.EndTs.UnixMilli()
	}
	for k, v := range d.Data {
		out[k] = v
	}
	return out
}

func (d *StateExecutionData) clone() *StateExecutionData {
	if d == nil {
		return nil
	}
	out := *d
	out.Data = copyMap(d.Data)
	if d.Element != nil {
		e := d.Element.clone()
		out.Element = &e
	}
	return &out
}

// Callback names a run-terminal handler and its parameters.
// The handler is resolved by name when the run ends.
type Callback struct {
	Handler string            `json:"handler"`
	Params  map[string]string `json:"params,omitempty"`
}

func (c *Callback) clone() *Callback {
	if c == nil {
		return nil
	}
	out := &Callback{Handler: c.Handler}
	if c.Params != nil {
		out.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// StateExecutionInstance is one durable attempt to run one state within one run.
// Instances of a run form a chain through PrevInstanceID.
type StateExecutionInstance struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	StateMachineID   string    `json:"state_machine_id"`
	StateName        string    `json:"state_name"`
	StateType        StateType `json:"state_type"`
	ParentInstanceID string    `json:"parent_instance_id,omitempty"`
	PrevInstanceID   string    `json:"prev_instance_id,omitempty"`
	NextInstanceID   string    `json:"next_instance_id,omitempty"`
	CloneInstanceID  string    `json:"clone_instance_id,omitempty"`
	NotifyID         string    `json:"notify_id,omitempty"`

	Status    ExecutionStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	StartTs   time.Time       `json:"start_ts,omitempty"`
	EndTs     time.Time       `json:"end_ts,omitempty"`

	// StateExecutionMap holds the record of every state reached in the chain, keyed by state name.
	StateExecutionMap map[string]*StateExecutionData `json:"state_execution_map,omitempty"`
	// ContextElements is the element stack, innermost first.
	ContextElements []ContextElement `json:"context_elements,omitempty"`
	// ContextElement is the element a spawned branch was created for.
	ContextElement *ContextElement  `json:"context_element,omitempty"`
	StateParams    map[string]any   `json:"state_params,omitempty"`
	NotifyElements []ContextElement `json:"notify_elements,omitempty"`

	Callback *Callback `json:"callback,omitempty"`
}

// ExecutionData returns the record for the instance's current state, or nil.
func (i *StateExecutionInstance) ExecutionData() *StateExecutionData {
	return i.StateExecutionMap[i.StateName]
}

// PushContextElement makes e the innermost element of the stack.
func (i *StateExecutionInstance) PushContextElement(e ContextElement) {
	i.ContextElements = append([]ContextElement{e}, i.ContextElements...)
}

// Copy returns a deep copy of the instance.
func (i *StateExecutionInstance) Copy() *StateExecutionInstance {
	out := *i
	if i.StateExecutionMap != nil {
		out.StateExecutionMap = make(map[string]*StateExecutionData, len(i.StateExecutionMap))
		for name, data := range i.StateExecutionMap {
			out.StateExecutionMap[name] = data.clone()
		}
	}
	out.ContextElements = cloneElements(i.ContextElements)
	out.NotifyElements = cloneElements(i.NotifyElements)
	if i.ContextElement != nil {
		e := i.ContextElement.clone()
		out.ContextElement = &e
	}
	out.StateParams = copyMap(i.StateParams)
	out.Callback = i.Callback.clone()
	return &out
}

// Clone returns the successor of i in the chain, positioned at nextState.
// The clone carries the run's accumulated data and element stack, is not yet
// persisted and starts in NEW.
func (i *StateExecutionInstance) Clone(nextState string) *StateExecutionInstance {
	out := i.Copy()
	out.ID = ""
	out.StateName = nextState
	out.StateType = ""
	out.PrevInstanceID = i.ID
	out.NextInstanceID = ""
	out.CloneInstanceID = ""
	out.StateParams = nil
	out.Status = StatusNew
	out.CreatedAt = time.Time{}
	out.StartTs = time.Time{}
	out.EndTs = time.Time{}
	return out
}

// Spawn returns a child of i that starts a branch at target and signals
// notifyID when the branch finishes. Children never run the run callback.
func (i *StateExecutionInstance) Spawn(target, notifyID string) *StateExecutionInstance {
	out := i.Clone(target)
	out.PrevInstanceID = ""
	out.ParentInstanceID = i.ID
	out.NotifyID = notifyID
	out.Callback = nil
	out.NotifyElements = nil
	return out
}
