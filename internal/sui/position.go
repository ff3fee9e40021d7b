package sui

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"stacklend/internal/model"
)

// Position is a borrower's registry entry, amounts converted to whole
// units (STX 6 decimals, sBTC 8, USDC 6).
type Position struct {
	SuiAddress     string  `json:"suiAddress"`
	StxCollateral  float64 `json:"stxCollateral"`
	SbtcCollateral float64 `json:"sbtcCollateral"`
	UsdcBorrowed   float64 `json:"usdcBorrowed"`
	IsLiquidatable bool    `json:"isLiquidatable"`
	BorrowPower    float64 `json:"borrowPower"`
	ObjectID       string  `json:"objectId"`
}

type objectResponse struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Content  *struct {
			DataType string                 `json:"dataType"`
			Fields   map[string]interface{} `json:"fields"`
		} `json:"content"`
	} `json:"data"`
}

type dynamicFieldsResponse struct {
	Data []struct {
		ObjectID string `json:"objectId"`
		Name     struct {
			Value interface{} `json:"value"`
		} `json:"name"`
	} `json:"data"`
}

// GetPosition looks up a borrower's position via the registry's dynamic
// fields. Returns (nil, nil) when the borrower has no position.
func (c *Client) GetPosition(ctx context.Context, address string) (*Position, error) {
	var registry objectResponse
	err := c.call(ctx, &registry, "sui_getObject",
		c.registryID, map[string]interface{}{"showContent": true})
	if err != nil {
		return nil, err
	}
	if registry.Data == nil || registry.Data.Content == nil || registry.Data.Content.DataType != "moveObject" {
		return nil, fmt.Errorf("registry object %s not found", c.registryID)
	}

	parentID := nestedString(registry.Data.Content.Fields, "id", "id")
	if parentID == "" {
		return nil, fmt.Errorf("registry object has no field table")
	}

	var fields dynamicFieldsResponse
	if err := c.call(ctx, &fields, "suix_getDynamicFields", parentID); err != nil {
		return nil, err
	}

	var positionObjectID string
	for _, field := range fields.Data {
		if value, ok := field.Name.Value.(string); ok && value == address {
			positionObjectID = field.ObjectID
			break
		}
	}
	if positionObjectID == "" {
		c.logger.Debug("no position found", zap.String("address", address))
		return nil, nil
	}

	var object objectResponse
	err = c.call(ctx, &object, "sui_getObject",
		positionObjectID, map[string]interface{}{"showContent": true})
	if err != nil {
		return nil, err
	}
	if object.Data == nil || object.Data.Content == nil || object.Data.Content.DataType != "moveObject" {
		return nil, fmt.Errorf("position object %s not found", positionObjectID)
	}

	// Table entries nest the struct under value.fields.
	positionFields := object.Data.Content.Fields
	if nested := nestedFields(positionFields, "value"); nested != nil {
		positionFields = nested
	}

	stxCollateral := fieldAmount(positionFields, "stx_collateral_stacks", model.MicroStxFactor)
	sbtcCollateral := fieldAmount(positionFields, "sbtc_collateral_sui", 100_000_000)
	if sbtcCollateral == 0 {
		sbtcCollateral = fieldAmount(positionFields, "sbtc_collateral_stacks", 100_000_000)
	}
	usdcBorrowed := fieldAmount(positionFields, "usdc_borrowed", 1_000_000)

	liquidatable, _ := positionFields["is_liquidatable"].(bool)

	return &Position{
		SuiAddress:     address,
		StxCollateral:  stxCollateral,
		SbtcCollateral: sbtcCollateral,
		UsdcBorrowed:   usdcBorrowed,
		IsLiquidatable: liquidatable,
		BorrowPower:    model.BorrowingPower(stxCollateral),
		ObjectID:       positionObjectID,
	}, nil
}

// HasOutstandingDebt reports whether a borrower currently owes USDC.
// Any failure to determine the answer returns true: an unknown debt
// state must never authorize an unlock.
func (c *Client) HasOutstandingDebt(ctx context.Context, address string) bool {
	position, err := c.GetPosition(ctx, address)
	if err != nil {
		c.logger.Error("failed to check debt status, assuming debt",
			zap.String("address", address), zap.Error(err))
		return true
	}
	if position == nil {
		c.logger.Warn("no position for debt check, assuming debt",
			zap.String("address", address))
		return true
	}
	return position.UsdcBorrowed > 0
}

func nestedFields(fields map[string]interface{}, key string) map[string]interface{} {
	wrapper, ok := fields[key].(map[string]interface{})
	if !ok {
		return nil
	}
	inner, ok := wrapper["fields"].(map[string]interface{})
	if !ok {
		return nil
	}
	return inner
}

func nestedString(fields map[string]interface{}, keys ...string) string {
	current := interface{}(fields)
	for _, key := range keys {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current = asMap[key]
	}
	value, _ := current.(string)
	return value
}

// fieldAmount reads a u64 field (encoded as a JSON string or number) and
// scales it down by the asset's decimal factor.
func fieldAmount(fields map[string]interface{}, key string, factor float64) float64 {
	switch value := fields[key].(type) {
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return parsed / factor
	case float64:
		return value / factor
	default:
		return 0
	}
}
