package domain

// Clone helpers produce deep copies so callers cannot mutate committed state
// through a returned value.

// Clone returns a deep copy of the study.
func (s Study) Clone() Study {
	cp := s
	cp.Spec = s.Spec.Clone()
	cp.Metadata = append([]KeyValue(nil), s.Metadata...)
	return cp
}

// Clone returns a deep copy of the spec.
func (s StudySpec) Clone() StudySpec {
	cp := s
	cp.Parameters = cloneParameterSpecs(s.Parameters)
	return cp
}

func cloneParameterSpecs(specs []ParameterSpec) []ParameterSpec {
	if specs == nil {
		return nil
	}
	out := make([]ParameterSpec, len(specs))
	for i, p := range specs {
		cp := p
		cp.Categories = append([]string(nil), p.Categories...)
		cp.Feasible = append([]float64(nil), p.Feasible...)
		cp.Children = cloneParameterSpecs(p.Children)
		out[i] = cp
	}
	return out
}

// Clone returns a deep copy of the trial.
func (t Trial) Clone() Trial {
	cp := t
	cp.Parameters = cloneParameterValues(t.Parameters)
	if t.Measurements != nil {
		cp.Measurements = make([]Measurement, len(t.Measurements))
		for i, m := range t.Measurements {
			cp.Measurements[i] = m.Clone()
		}
	}
	if t.FinalMeasurement != nil {
		m := t.FinalMeasurement.Clone()
		cp.FinalMeasurement = &m
	}
	cp.Metadata = append([]KeyValue(nil), t.Metadata...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

func cloneParameterValues(values []ParameterValue) []ParameterValue {
	if values == nil {
		return nil
	}
	out := make([]ParameterValue, len(values))
	for i, v := range values {
		cp := v
		if v.DoubleValue != nil {
			d := *v.DoubleValue
			cp.DoubleValue = &d
		}
		if v.IntValue != nil {
			n := *v.IntValue
			cp.IntValue = &n
		}
		if v.StringValue != nil {
			s := *v.StringValue
			cp.StringValue = &s
		}
		out[i] = cp
	}
	return out
}

// Clone returns a deep copy of the measurement.
func (m Measurement) Clone() Measurement {
	cp := m
	if m.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			cp.Metrics[k] = v
		}
	}
	return cp
}

// Clone returns a deep copy of the suggestion.
func (s Suggestion) Clone() Suggestion {
	return Suggestion{Parameters: cloneParameterValues(s.Parameters)}
}

// Clone returns a deep copy of the operation.
func (o SuggestOperation) Clone() SuggestOperation {
	cp := o
	if o.Suggestions != nil {
		cp.Suggestions = make([]Suggestion, len(o.Suggestions))
		for i, s := range o.Suggestions {
			cp.Suggestions[i] = s.Clone()
		}
	}
	if o.Error != nil {
		e := *o.Error
		cp.Error = &e
	}
	return cp
}

// Clone returns a deep copy of the operation.
func (o EarlyStoppingOperation) Clone() EarlyStoppingOperation {
	cp := o
	if o.Error != nil {
		e := *o.Error
		cp.Error = &e
	}
	return cp
}
