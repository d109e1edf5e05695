package batchcore

import "fmt"

type jobBuilder struct {
	name           string
	steps          []Step
	incrementer    JobParametersIncrementer
	jobListeners   []JobListener
	stepListeners  []StepListener
	chunkListeners []ChunkListener
	skipListeners  []SkipListener
	retryListeners []RetryListener
}

//NewJob new instance of job builder
func NewJob(name string, steps ...Step) *jobBuilder {
	if name == "" {
		panic("job name must not be empty")
	}
	builder := &jobBuilder{
		name:  name,
		steps: steps,
	}
	return builder
}

func (builder *jobBuilder) Step(step ...Step) *jobBuilder {
	builder.steps = append(builder.steps, step...)
	return builder
}

//Incrementer derive the parameters of a new instance for JobLauncher.StartNextInstance
func (builder *jobBuilder) Incrementer(incrementer JobParametersIncrementer) *jobBuilder {
	builder.incrementer = incrementer
	return builder
}

//Listener register job listeners, and step, chunk, skip or retry listeners applied to every step
func (builder *jobBuilder) Listener(listener ...interface{}) *jobBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(JobListener); ok {
			builder.jobListeners = append(builder.jobListeners, ll)
			valid = true
		}
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if ll, ok := l.(SkipListener); ok {
			builder.skipListeners = append(builder.skipListeners, ll)
			valid = true
		}
		if ll, ok := l.(RetryListener); ok {
			builder.retryListeners = append(builder.retryListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%+v for job:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *jobBuilder) Build() Job {
	if len(builder.steps) == 0 {
		panic(fmt.Sprintf("job:%v has no step", builder.name))
	}
	names := make(map[string]bool)
	for _, step := range builder.steps {
		if names[step.Name()] {
			panic(fmt.Sprintf("duplicated step name:%v in job:%v", step.Name(), builder.name))
		}
		names[step.Name()] = true
	}
	for _, step := range builder.steps {
		for _, sl := range builder.stepListeners {
			step.addListener(sl)
		}
		if chkStep, ok := step.(*chunkStep); ok {
			chkStep.chunkListeners = append(chkStep.chunkListeners, builder.chunkListeners...)
			chkStep.skipListeners = append(chkStep.skipListeners, builder.skipListeners...)
			chkStep.retryListeners = append(chkStep.retryListeners, builder.retryListeners...)
		}
	}
	return newSimpleJob(builder.name, builder.steps, builder.jobListeners, builder.incrementer)
}
