package appstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/blacktop/reviewsync/internal/model"
)

const (
	typeCustomerReviews         = "customerReviews"
	typeCustomerReviewResponses = "customerReviewResponses"
)

type ReviewAttributes struct {
	Rating           int    `json:"rating"`
	Title            string `json:"title"`
	Body             string `json:"body"`
	ReviewerNickname string `json:"reviewerNickname"`
	CreatedDate      Date   `json:"createdDate"`
	Territory        string `json:"territory"`
}

type Review struct {
	Type          string           `json:"type"`
	ID            string           `json:"id"`
	Attributes    ReviewAttributes `json:"attributes"`
	Relationships struct {
		Response struct {
			Data  *ResourceIdentifier `json:"data"`
			Links Links               `json:"links"`
		} `json:"response"`
	} `json:"relationships"`
	Links Links `json:"links"`
}

type ReviewResponseAttributes struct {
	ResponseBody     string `json:"responseBody"`
	LastModifiedDate Date   `json:"lastModifiedDate"`
	State            string `json:"state"` // PENDING_PUBLISH, PUBLISHED
}

type ReviewResponse struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id"`
	Attributes    ReviewResponseAttributes `json:"attributes"`
	Relationships struct {
		Review struct {
			Data *ResourceIdentifier `json:"data"`
		} `json:"review"`
	} `json:"relationships"`
}

type ReviewsResponse struct {
	Data     []Review           `json:"data"`
	Included []ReviewResponse   `json:"included"`
	Links    PagedDocumentLinks `json:"links"`
	Meta     Meta               `json:"meta"`
}

type ReviewDocument struct {
	Data     Review           `json:"data"`
	Included []ReviewResponse `json:"included"`
}

type reviewResponseCreateRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			ResponseBody string `json:"responseBody"`
		} `json:"attributes"`
		Relationships struct {
			Review struct {
				Data ResourceIdentifier `json:"data"`
			} `json:"review"`
		} `json:"relationships"`
	} `json:"data"`
}

// ListReviews returns all reviews of an app, newest first, with their
// responses attached.
func (c *Client) ListReviews(ctx context.Context, appID string) ([]*model.CustomerReview, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("sort", "-createdDate")
	q.Set("include", "response")

	var reviews []*model.CustomerReview

	next := "/apps/" + url.PathEscape(appID) + "/customerReviews?" + q.Encode()
	for next != "" {
		var page ReviewsResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("failed to list reviews for app %s: %w", appID, err)
		}
		responses := indexResponses(page.Included)
		for _, r := range page.Data {
			reviews = append(reviews, r.toModel(appID, responses))
		}
		next = page.Links.Next
	}

	return reviews, nil
}

// GetReview fetches a single review with its response.
func (c *Client) GetReview(ctx context.Context, appID, reviewID string) (*model.CustomerReview, error) {
	var doc ReviewDocument
	if err := c.getJSON(ctx, "/customerReviews/"+url.PathEscape(reviewID)+"?include=response", &doc); err != nil {
		return nil, fmt.Errorf("failed to get review %s: %w", reviewID, err)
	}
	return doc.Data.toModel(appID, indexResponses(doc.Included)), nil
}

// Respond creates or replaces the developer response of a review.
func (c *Client) Respond(ctx context.Context, reviewID, body string) error {
	if err := model.ValidateResponseBody(body); err != nil {
		return err
	}
	var req reviewResponseCreateRequest
	req.Data.Type = typeCustomerReviewResponses
	req.Data.Attributes.ResponseBody = body
	req.Data.Relationships.Review.Data = ResourceIdentifier{Type: typeCustomerReviews, ID: reviewID}

	if err := c.send(ctx, http.MethodPost, "/customerReviewResponses", req); err != nil {
		return fmt.Errorf("failed to respond to review %s: %w", reviewID, err)
	}
	return nil
}

// DeleteResponse removes a developer response.
func (c *Client) DeleteResponse(ctx context.Context, responseID string) error {
	if responseID == "" {
		return model.NewError(model.InvalidInput, "delete response", "missing response id", nil)
	}
	if err := c.send(ctx, http.MethodDelete, "/customerReviewResponses/"+url.PathEscape(responseID), nil); err != nil {
		return fmt.Errorf("failed to delete response %s: %w", responseID, err)
	}
	return nil
}

func indexResponses(included []ReviewResponse) map[string]ReviewResponse {
	m := make(map[string]ReviewResponse, len(included))
	for _, inc := range included {
		if inc.Type != "" && inc.Type != typeCustomerReviewResponses {
			continue
		}
		m[inc.ID] = inc
	}
	return m
}

func (r Review) toModel(appID string, responses map[string]ReviewResponse) *model.CustomerReview {
	review := &model.CustomerReview{
		ID:               r.ID,
		AppID:            appID,
		Rating:           r.Attributes.Rating,
		Title:            r.Attributes.Title,
		Body:             r.Attributes.Body,
		ReviewerNickname: r.Attributes.ReviewerNickname,
		CreatedDate:      r.Attributes.CreatedDate.Time(),
		Territory:        r.Attributes.Territory,
	}
	if rel := r.Relationships.Response.Data; rel != nil {
		if resp, ok := responses[rel.ID]; ok {
			review.Response = &model.Response{
				ID:               resp.ID,
				ReviewID:         r.ID,
				Body:             resp.Attributes.ResponseBody,
				LastModifiedDate: resp.Attributes.LastModifiedDate.Time(),
				State:            model.ParseResponseState(resp.Attributes.State),
			}
		}
	}
	return review
}
