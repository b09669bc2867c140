package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/intakevault/internal/common"
)

// s3API is the part of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements Store on top of the AWS SDK.
type S3Store struct {
	client s3API
}

func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// permanentCodes are S3 error codes retrying cannot fix.
var permanentCodes = map[string]struct{}{
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"InvalidArgument":       {},
	"InvalidTag":            {},
	"EntityTooLarge":        {},
	"InvalidBucketName":     {},
	"MalformedXML":          {},
}

// classify maps SDK errors onto the package contract.
func classify(op string, loc Location, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%s %s: %w", op, loc, common.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%s %s: %w", op, loc, common.ErrNotFound)
		default:
			if _, ok := permanentCodes[code]; ok {
				return fmt.Errorf("%s %s: %s", op, loc, code)
			}
		}
	}
	return fmt.Errorf("%s %s: %w: %v", op, loc, common.ErrTransientStore, err)
}

// EncodeTags renders tags in the URL query form PutObject expects, with keys
// sorted for stable requests.
func EncodeTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := url.Values{}
	for _, k := range keys {
		v.Set(k, tags[k])
	}
	return v.Encode()
}

func toTagSet(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return set
}

func copySource(loc Location) string {
	parts := strings.Split(loc.Key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return loc.Bucket + "/" + strings.Join(parts, "/")
}

func (s *S3Store) Put(ctx context.Context, in PutInput) error {
	if len(in.Tags) > S3TagLimit {
		return fmt.Errorf("put %s: %d tags exceeds limit %d", in.Location, len(in.Tags), S3TagLimit)
	}

	req := &s3.PutObjectInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Body),
		ContentLength: aws.Int64(int64(len(in.Body))),
		Metadata:      in.Metadata,
	}
	if in.ContentType != "" {
		req.ContentType = aws.String(in.ContentType)
	}
	if len(in.Tags) > 0 {
		req.Tagging = aws.String(EncodeTags(in.Tags))
	}

	_, err := s.client.PutObject(ctx, req)
	return classify("put", in.Location, err)
}

func (s *S3Store) Get(ctx context.Context, loc Location) ([]byte, ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, ObjectInfo{}, classify("get", loc, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: %w: %v", loc, common.ErrTransientStore, err)
	}

	return body, ObjectInfo{
		Location:    loc,
		Size:        int64(len(body)),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    cloneMap(out.Metadata),
	}, nil
}

func (s *S3Store) Head(ctx context.Context, loc Location) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return ObjectInfo{}, classify("head", loc, err)
	}
	return ObjectInfo{
		Location:    loc,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    cloneMap(out.Metadata),
	}, nil
}

func (s *S3Store) GetTags(ctx context.Context, loc Location) (map[string]string, error) {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, classify("get tags", loc, err)
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func (s *S3Store) SetTags(ctx context.Context, loc Location, tags map[string]string) error {
	if len(tags) > S3TagLimit {
		return fmt.Errorf("set tags %s: %d tags exceeds limit %d", loc, len(tags), S3TagLimit)
	}
	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(loc.Bucket),
		Key:     aws.String(loc.Key),
		Tagging: &types.Tagging{TagSet: toTagSet(tags)},
	})
	return classify("set tags", loc, err)
}

func (s *S3Store) Copy(ctx context.Context, src, dst Location, metadata, tags map[string]string) error {
	req := &s3.CopyObjectInput{
		Bucket:            aws.String(dst.Bucket),
		Key:               aws.String(dst.Key),
		CopySource:        aws.String(copySource(src)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
		TaggingDirective:  types.TaggingDirectiveReplace,
	}
	if len(tags) > 0 {
		req.Tagging = aws.String(EncodeTags(tags))
	}
	_, err := s.client.CopyObject(ctx, req)
	return classify("copy", src, err)
}

func (s *S3Store) Delete(ctx context.Context, loc Location) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	return classify("delete", loc, err)
}
