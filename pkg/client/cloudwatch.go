package client

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/config"
)

// ptrField carries the record pointer in CloudWatch results.
const ptrField = "@ptr"

// cloudWatchAPI is the subset of the CloudWatch Logs client in use.
type cloudWatchAPI interface {
	cloudwatchlogs.DescribeLogGroupsAPIClient
	StartQuery(ctx context.Context, in *cloudwatchlogs.StartQueryInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.StartQueryOutput, error)
	GetQueryResults(ctx context.Context, in *cloudwatchlogs.GetQueryResultsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetQueryResultsOutput, error)
	StopQuery(ctx context.Context, in *cloudwatchlogs.StopQueryInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.StopQueryOutput, error)
	GetLogRecord(ctx context.Context, in *cloudwatchlogs.GetLogRecordInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogRecordOutput, error)
}

// CloudWatch talks to CloudWatch Logs Insights with a named shared-config profile.
type CloudWatch struct {
	api cloudWatchAPI
}

func NewCloudWatch(ctx context.Context, cfg config.Context) (*CloudWatch, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(backend.ErrBackendUnavailable, "load aws profile %q: %v", cfg.Profile, err)
	}
	log.Debug().Str("context", cfg.Name).Str("profile", cfg.Profile).Str("region", cfg.Region).Msg("CloudWatch client created")
	return &CloudWatch{api: cloudwatchlogs.NewFromConfig(awsCfg)}, nil
}

func (c *CloudWatch) ListLogGroups(ctx context.Context) ([]string, error) {
	var names []string
	pages := cloudwatchlogs.NewDescribeLogGroupsPaginator(c.api, &cloudwatchlogs.DescribeLogGroupsInput{})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapAWSError(err)
		}
		for _, g := range out.LogGroups {
			names = append(names, aws.ToString(g.LogGroupName))
		}
	}
	return names, nil
}

func (c *CloudWatch) StartQuery(ctx context.Context, req backend.StartRequest) (string, error) {
	out, err := c.api.StartQuery(ctx, &cloudwatchlogs.StartQueryInput{
		LogGroupNames: req.LogGroupNames,
		StartTime:     aws.Int64(req.StartTime),
		EndTime:       aws.Int64(req.EndTime),
		QueryString:   aws.String(req.QueryString),
		Limit:         req.Limit,
	})
	if err != nil {
		return "", mapAWSError(err)
	}
	return aws.ToString(out.QueryId), nil
}

func (c *CloudWatch) PollResults(ctx context.Context, token string) (backend.ResultPage, error) {
	out, err := c.api.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{QueryId: aws.String(token)})
	if err != nil {
		return backend.ResultPage{}, mapAWSError(err)
	}
	page := backend.ResultPage{
		Status:  convertStatus(out.Status),
		Results: make([]backend.Record, 0, len(out.Results)),
	}
	if s := out.Statistics; s != nil {
		page.Statistics = &backend.Statistics{
			BytesScanned:   s.BytesScanned,
			RecordsMatched: s.RecordsMatched,
			RecordsScanned: s.RecordsScanned,
		}
	}
	for i, row := range out.Results {
		page.Results = append(page.Results, convertRow(row, i))
	}
	return page, nil
}

func (c *CloudWatch) StopQuery(ctx context.Context, token string) error {
	_, err := c.api.StopQuery(ctx, &cloudwatchlogs.StopQueryInput{QueryId: aws.String(token)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	// the query already finished
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidParameterException" {
		log.Debug().Str("query_id", token).Str("reason", apiErr.ErrorMessage()).Msg("stop query ignored")
		return nil
	}
	return mapAWSError(err)
}

func (c *CloudWatch) FetchRecord(ctx context.Context, pointer string) (map[string]string, error) {
	out, err := c.api.GetLogRecord(ctx, &cloudwatchlogs.GetLogRecordInput{LogRecordPointer: aws.String(pointer)})
	var notFound *cwtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return nil, errors.Wrapf(backend.ErrRecordNotFound, "pointer %s", pointer)
	}
	if err != nil {
		return nil, mapAWSError(err)
	}
	return out.LogRecord, nil
}

func convertStatus(s cwtypes.QueryStatus) backend.Status {
	switch s {
	case cwtypes.QueryStatusScheduled:
		return backend.StatusScheduled
	case cwtypes.QueryStatusRunning:
		return backend.StatusRunning
	case cwtypes.QueryStatusComplete:
		return backend.StatusComplete
	case cwtypes.QueryStatusFailed:
		return backend.StatusFailed
	case cwtypes.QueryStatusCancelled:
		return backend.StatusCancelled
	case cwtypes.QueryStatusTimeout:
		return backend.StatusTimeout
	}
	return backend.StatusUnknown
}

// convertRow keeps field order; the last @ptr becomes the record id.
func convertRow(row []cwtypes.ResultField, index int) backend.Record {
	record := backend.Record{Fields: make([]backend.Field, 0, len(row))}
	for _, f := range row {
		name, value := aws.ToString(f.Field), aws.ToString(f.Value)
		if name == ptrField {
			record.ID = value
		}
		record.Fields = append(record.Fields, backend.Field{Field: name, Value: value})
	}
	if record.ID == "" {
		record.ID = strconv.Itoa(index)
	}
	return record
}

func mapAWSError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "MalformedQueryException", "InvalidParameterException", "LimitExceededException", "ResourceNotFoundException":
			return errors.Wrapf(backend.ErrInvalidQuery, "%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		case "ServiceUnavailableException", "ThrottlingException":
			return errors.Wrapf(backend.ErrBackendUnavailable, "%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return errors.WithStack(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrapf(backend.ErrBackendUnavailable, "%v", err)
}
