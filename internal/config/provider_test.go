package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ SecretProvider = (*SSMProvider)(nil)
	_ SecretProvider = (*EnvVarProvider)(nil)
)

type fakeSSM struct {
	values  map[string]string
	batches [][]string
	err     error
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := range 23 {
		k := "/dev/payrelay/" + string(rune('a'+i))
		keys = append(keys, k)
		values[k] = "v"
	}
	fake := &fakeSSM{values: values}

	got, err := newSSMProviderWithClient("us-east-1", fake).GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	require.Len(t, fake.batches, 3)
	assert.Len(t, fake.batches[0], 10)
	assert.Len(t, fake.batches[2], 3)
}

func TestSSMProviderInvalidParameter(t *testing.T) {
	fake := &fakeSSM{values: map[string]string{}}

	_, err := newSSMProviderWithClient("us-east-1", fake).GetParametersBatch(context.Background(), []string{"/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
}

func TestSSMProviderClientError(t *testing.T) {
	fake := &fakeSSM{err: errors.New("AccessDenied")}

	_, err := newSSMProviderWithClient("us-east-1", fake).GetParametersBatch(context.Background(), []string{"/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestSSMProviderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeSSM{values: map[string]string{"/x": "1"}}
	_, err := newSSMProviderWithClient("us-east-1", fake).GetParametersBatch(ctx, []string{"/x"})
	require.Error(t, err)
	assert.Empty(t, fake.batches)
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	got, err := NewSSMProvider("us-east-1", "").GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("PAYRELAY_TEST_SECRET", "value")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"PAYRELAY_TEST_SECRET", "PAYRELAY_TEST_UNSET_XYZ"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PAYRELAY_TEST_SECRET": "value"}, got)
}
