package wire

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ToAttributeValue converts v into the aws-sdk-go-v2 representation.
func ToAttributeValue(v Value) types.AttributeValue {
	switch v.kind {
	case KindString:
		return &types.AttributeValueMemberS{Value: v.str}
	case KindNumber:
		return &types.AttributeValueMemberN{Value: v.str}
	case KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.b}
	case KindList:
		list := make([]types.AttributeValue, len(v.list))
		for i, e := range v.list {
			list[i] = ToAttributeValue(e)
		}
		return &types.AttributeValueMemberL{Value: list}
	case KindMap:
		return &types.AttributeValueMemberM{Value: ToAttributeValueMap(v.m)}
	}
	return &types.AttributeValueMemberNULL{Value: true}
}

// ToAttributeValueMap converts an attribute map into the SDK representation.
func ToAttributeValueMap(m map[string]Value) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = ToAttributeValue(v)
	}
	return out
}

// FromAttributeValue converts an SDK attribute value. Sets become lists;
// binary values are not supported.
func FromAttributeValue(av types.AttributeValue) (Value, error) {
	switch x := av.(type) {
	case nil:
		return Null(), nil
	case *types.AttributeValueMemberNULL:
		return Null(), nil
	case *types.AttributeValueMemberS:
		return String(x.Value), nil
	case *types.AttributeValueMemberN:
		return Number(x.Value), nil
	case *types.AttributeValueMemberBOOL:
		return Bool(x.Value), nil
	case *types.AttributeValueMemberSS:
		list := make([]Value, len(x.Value))
		for i, s := range x.Value {
			list[i] = String(s)
		}
		return List(list...), nil
	case *types.AttributeValueMemberNS:
		list := make([]Value, len(x.Value))
		for i, s := range x.Value {
			list[i] = Number(s)
		}
		return List(list...), nil
	case *types.AttributeValueMemberL:
		list := make([]Value, len(x.Value))
		for i, e := range x.Value {
			v, err := FromAttributeValue(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = v
		}
		return List(list...), nil
	case *types.AttributeValueMemberM:
		m, err := FromAttributeValueMap(x.Value)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, av)
}

// FromAttributeValueMap converts an SDK attribute map.
func FromAttributeValueMap(m map[string]types.AttributeValue) (map[string]Value, error) {
	out := make(map[string]Value, len(m))
	for k, av := range m {
		v, err := FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
