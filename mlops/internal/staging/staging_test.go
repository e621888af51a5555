package staging

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeObjects struct {
	copies  []string
	deletes []string
	err     error
}

func (f *fakeObjects) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if f.err != nil {
		return f.err
	}
	f.copies = append(f.copies, srcBucket+"/"+srcKey+"->"+dstBucket+"/"+dstKey)
	return nil
}

func (f *fakeObjects) Delete(ctx context.Context, bucket, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, bucket+"/"+key)
	return nil
}

func props() map[string]interface{} {
	return map[string]interface{}{
		"ServiceToken": "arn:aws:lambda:us-east-1:123456789012:function:staging",
		"SourceBucket": "seed-bucket",
		"SourceKey":    "abalone/abalone.csv",
		"TargetBucket": "pipeline-bucket",
		"TargetKey":    "input/raw/abalone.csv",
	}
}

func TestCreateAndUpdateCopy(t *testing.T) {
	for _, rt := range []cfn.RequestType{cfn.RequestCreate, cfn.RequestUpdate} {
		objects := &fakeObjects{}
		s := New(objects, zaptest.NewLogger(t).Sugar())

		id, data, err := s.Handle(context.Background(), cfn.Event{RequestType: rt, ResourceProperties: props()})
		require.NoError(t, err)
		assert.Equal(t, "s3://pipeline-bucket/input/raw/abalone.csv", id)
		assert.Equal(t, id, data["Uri"])
		assert.Equal(t, []string{"seed-bucket/abalone/abalone.csv->pipeline-bucket/input/raw/abalone.csv"}, objects.copies)
		assert.Empty(t, objects.deletes)
	}
}

func TestDeleteRemovesTarget(t *testing.T) {
	objects := &fakeObjects{}
	s := New(objects, nil)

	id, _, err := s.Handle(context.Background(), cfn.Event{RequestType: cfn.RequestDelete, ResourceProperties: props()})
	require.NoError(t, err)
	assert.Equal(t, "s3://pipeline-bucket/input/raw/abalone.csv", id)
	assert.Equal(t, []string{"pipeline-bucket/input/raw/abalone.csv"}, objects.deletes)
	assert.Empty(t, objects.copies)
}

func TestCopyFailureIsReturned(t *testing.T) {
	s := New(&fakeObjects{err: errors.New("AccessDenied")}, nil)

	_, _, err := s.Handle(context.Background(), cfn.Event{RequestType: cfn.RequestCreate, ResourceProperties: props()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestInvalidProperties(t *testing.T) {
	objects := &fakeObjects{}
	s := New(objects, nil)
	p := props()
	delete(p, "TargetKey")

	_, _, err := s.Handle(context.Background(), cfn.Event{RequestType: cfn.RequestCreate, ResourceProperties: p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TargetKey")

	id, _, err := s.Handle(context.Background(), cfn.Event{RequestType: cfn.RequestDelete, PhysicalResourceID: "prior", ResourceProperties: p})
	require.NoError(t, err)
	assert.Equal(t, "prior", id)
	assert.Empty(t, objects.deletes)
}
