package models

import (
	"encoding/json"
	"fmt"
)

// JobDescriptor is the processing job submission template shipped as
// evaluationJob.json. Field names follow the AWS API shape so existing templates
// decode unchanged.
type JobDescriptor struct {
	ProcessingJobName      string                   `json:"ProcessingJobName,omitempty"`
	RoleArn                string                   `json:"RoleArn,omitempty"`
	AppSpecification       AppSpecification         `json:"AppSpecification"`
	ProcessingInputs       []DescriptorInput        `json:"ProcessingInputs"`
	ProcessingOutputConfig ProcessingOutputConfig   `json:"ProcessingOutputConfig"`
	ProcessingResources    ProcessingResources      `json:"ProcessingResources"`
	StoppingCondition      *StoppingCondition       `json:"StoppingCondition,omitempty"`
	Environment            map[string]string        `json:"Environment,omitempty"`
	NetworkConfig          *DescriptorNetworkConfig `json:"NetworkConfig,omitempty"`
	Tags                   []Tag                    `json:"Tags"`
}

type AppSpecification struct {
	ImageURI            string   `json:"ImageUri"`
	ContainerEntrypoint []string `json:"ContainerEntrypoint,omitempty"`
	ContainerArguments  []string `json:"ContainerArguments,omitempty"`
}

type DescriptorInput struct {
	InputName string  `json:"InputName"`
	S3Input   S3Input `json:"S3Input"`
}

type S3Input struct {
	S3URI                  string `json:"S3Uri"`
	LocalPath              string `json:"LocalPath,omitempty"`
	S3DataType             string `json:"S3DataType,omitempty"`
	S3InputMode            string `json:"S3InputMode,omitempty"`
	S3DataDistributionType string `json:"S3DataDistributionType,omitempty"`
	S3CompressionType      string `json:"S3CompressionType,omitempty"`
}

type ProcessingOutputConfig struct {
	Outputs  []DescriptorOutput `json:"Outputs"`
	KmsKeyID string             `json:"KmsKeyId,omitempty"`
}

type DescriptorOutput struct {
	OutputName string   `json:"OutputName"`
	S3Output   S3Output `json:"S3Output"`
}

type S3Output struct {
	S3URI        string `json:"S3Uri"`
	LocalPath    string `json:"LocalPath,omitempty"`
	S3UploadMode string `json:"S3UploadMode,omitempty"`
}

type ProcessingResources struct {
	ClusterConfig ClusterConfig `json:"ClusterConfig"`
}

type ClusterConfig struct {
	InstanceCount  int32  `json:"InstanceCount"`
	InstanceType   string `json:"InstanceType"`
	VolumeSizeInGB int32  `json:"VolumeSizeInGB"`
	VolumeKmsKeyID string `json:"VolumeKmsKeyId,omitempty"`
}

type StoppingCondition struct {
	MaxRuntimeInSeconds int32 `json:"MaxRuntimeInSeconds"`
}

type DescriptorNetworkConfig struct {
	EnableNetworkIsolation *bool `json:"EnableNetworkIsolation,omitempty"`
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// ParseJobDescriptor decodes a template and checks it declares the slots the
// dispatcher patches.
func ParseJobDescriptor(raw []byte) (JobDescriptor, error) {
	var d JobDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return JobDescriptor{}, fmt.Errorf("decode job descriptor: %w", err)
	}
	if len(d.ProcessingInputs) < 2 {
		return JobDescriptor{}, fmt.Errorf("job descriptor declares %d processing inputs, need 2", len(d.ProcessingInputs))
	}
	if len(d.ProcessingOutputConfig.Outputs) < 1 {
		return JobDescriptor{}, fmt.Errorf("job descriptor declares no processing outputs")
	}
	return d, nil
}

// InputPair resolves the processing inputs for two roles. A role found by name
// keeps its input; a role without one takes its default slot (0 for first, 1
// for second) unless the named role holds it, in which case it takes the other.
func (d JobDescriptor) InputPair(first, second string) (int, int) {
	i, iok := d.inputIndex(first)
	j, jok := d.inputIndex(second)
	switch {
	case iok && jok:
		return i, j
	case iok:
		return i, freeSlot(1, i)
	case jok:
		return freeSlot(0, j), j
	}
	return 0, 1
}

func (d JobDescriptor) inputIndex(name string) (int, bool) {
	for i, in := range d.ProcessingInputs {
		if in.InputName == name {
			return i, true
		}
	}
	return 0, false
}

// freeSlot returns position unless it is taken, otherwise the other of 0 and 1.
func freeSlot(position, taken int) int {
	if position != taken {
		return position
	}
	return 1 - position
}

// OutputIndex resolves a processing output by name, falling back to position.
func (d JobDescriptor) OutputIndex(name string, position int) int {
	for i, out := range d.ProcessingOutputConfig.Outputs {
		if out.OutputName == name {
			return i
		}
	}
	return position
}
