package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
)

// DynamoAPI is the subset of the DynamoDB client used by the job store.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoJob is the item layout. Timestamps are epoch-second strings.
type dynamoJob struct {
	JobID         string  `dynamodbav:"job_id"`
	Status        string  `dynamodbav:"status"`
	OriginalKey   string  `dynamodbav:"original_s3_key"`
	DerivedKey    *string `dynamodbav:"preprocessed_s3_key,omitempty"`
	ExtractedText *string `dynamodbav:"extracted_text,omitempty"`
	ErrorMessage  *string `dynamodbav:"error_message,omitempty"`
	Timestamp     string  `dynamodbav:"timestamp"`
	UpdatedAt     string  `dynamodbav:"updated_at"`
}

func (d dynamoJob) toEntity() (*entity.Job, error) {
	created, err := entity.ParseEpoch(d.Timestamp)
	if err != nil {
		return nil, err
	}
	updated, err := entity.ParseEpoch(d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entity.Job{
		ID:            d.JobID,
		Status:        constants.JobStatus(d.Status),
		OriginalKey:   d.OriginalKey,
		DerivedKey:    d.DerivedKey,
		ExtractedText: d.ExtractedText,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

type dynamoJobRepo struct {
	api   DynamoAPI
	table string
	log   *slog.Logger
}

// NewDynamoJobRepository returns a JobRepository backed by a DynamoDB table
// whose partition key is the string attribute job_id.
func NewDynamoJobRepository(api DynamoAPI, table string, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &dynamoJobRepo{api: api, table: table, log: log}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}}
}

func (r *dynamoJobRepo) Create(ctx context.Context, job *entity.Job) error {
	item, err := attributevalue.MarshalMap(dynamoJob{
		JobID:       job.ID,
		Status:      string(job.Status),
		OriginalKey: job.OriginalKey,
		Timestamp:   entity.FormatEpoch(job.CreatedAt),
		UpdatedAt:   entity.FormatEpoch(job.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("create job %s: %w", job.ID, common.ErrJobExists)
		}
		r.log.Error("job create failed", "job_id", job.ID, "err", err)
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *dynamoJobRepo) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("get job %s: %w", jobID, common.ErrJobNotFound)
	}
	var d dynamoJob
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return d.toEntity()
}

func (r *dynamoJobRepo) Complete(ctx context.Context, jobID string, c entity.Completion) error {
	return r.transition(ctx, jobID, constants.JobStatusCompleted,
		"SET #status = :to, extracted_text = :text, preprocessed_s3_key = :derived, updated_at = :at",
		map[string]types.AttributeValue{
			":text":    &types.AttributeValueMemberS{Value: c.ExtractedText},
			":derived": &types.AttributeValueMemberS{Value: c.DerivedKey},
			":at":      &types.AttributeValueMemberS{Value: entity.FormatEpoch(c.At)},
		})
}

func (r *dynamoJobRepo) Fail(ctx context.Context, jobID string, f entity.Failure) error {
	return r.transition(ctx, jobID, constants.JobStatusFailed,
		"SET #status = :to, error_message = :msg, updated_at = :at",
		map[string]types.AttributeValue{
			":msg": &types.AttributeValueMemberS{Value: f.Message},
			":at":  &types.AttributeValueMemberS{Value: entity.FormatEpoch(f.At)},
		})
}

func (r *dynamoJobRepo) transition(ctx context.Context, jobID string, to constants.JobStatus, update string, values map[string]types.AttributeValue) error {
	values[":to"] = &types.AttributeValueMemberS{Value: string(to)}
	values[":pending"] = &types.AttributeValueMemberS{Value: string(constants.JobStatusPending)}
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       jobKey(jobID),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(job_id) AND #status = :pending"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		r.log.Info("job transitioned", "job_id", jobID, "to", to)
		return nil
	}
	if !isConditionFailed(err) {
		r.log.Error("job transition failed", "job_id", jobID, "to", to, "err", err)
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if _, err := r.Get(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("update job %s to %s: %w", jobID, to, common.ErrConflict)
}

func (r *dynamoJobRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Job, error) {
	var (
		out   []*entity.Job
		start map[string]types.AttributeValue
	)
	for {
		page, err := r.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			FilterExpression:          aws.String("#status = :pending"),
			ExpressionAttributeNames:  map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":pending": &types.AttributeValueMemberS{Value: string(constants.JobStatusPending)}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan stale jobs: %w", err)
		}
		var items []dynamoJob
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode stale jobs: %w", err)
		}
		for _, it := range items {
			j, err := it.toEntity()
			if err != nil {
				r.log.Warn("skipping job with bad timestamps", "job_id", it.JobID, "err", err)
				continue
			}
			if j.UpdatedAt.Before(olderThan) {
				out = append(out, j)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
