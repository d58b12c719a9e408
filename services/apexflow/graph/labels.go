// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

// Vertex labels understood by the engine. Labels mirror the node kinds
// emitted by the Apex front-end.
const (
	// Declarations
	LabelUserClass                  = "UserClass"
	LabelUserInterface              = "UserInterface"
	LabelMethod                     = "Method"
	LabelParameter                  = "Parameter"
	LabelFieldDeclarationStatements = "FieldDeclarationStatements"
	LabelFieldDeclaration           = "FieldDeclaration"

	// Statements
	LabelBlockStatement                = "BlockStatement"
	LabelExpressionStatement           = "ExpressionStatement"
	LabelVariableDeclarationStatements = "VariableDeclarationStatements"
	LabelVariableDeclaration           = "VariableDeclaration"
	LabelIfElseBlockStatement          = "IfElseBlockStatement"
	LabelIfBlockStatement              = "IfBlockStatement"
	LabelStandardCondition             = "StandardCondition"
	LabelReturnStatement               = "ReturnStatement"
	LabelThrowStatement                = "ThrowStatement"
	LabelForEachStatement              = "ForEachStatement"
	LabelWhileLoopStatement            = "WhileLoopStatement"
	LabelDmlInsertStatement            = "DmlInsertStatement"
	LabelDmlUpdateStatement            = "DmlUpdateStatement"
	LabelDmlDeleteStatement            = "DmlDeleteStatement"
	LabelDmlUpsertStatement            = "DmlUpsertStatement"

	// Expressions
	LabelLiteralExpression          = "LiteralExpression"
	LabelVariableExpression         = "VariableExpression"
	LabelReferenceExpression        = "ReferenceExpression"
	LabelEmptyReferenceExpression   = "EmptyReferenceExpression"
	LabelThisVariableExpression     = "ThisVariableExpression"
	LabelSuperVariableExpression    = "SuperVariableExpression"
	LabelBinaryExpression           = "BinaryExpression"
	LabelBooleanExpression          = "BooleanExpression"
	LabelPrefixExpression           = "PrefixExpression"
	LabelPostfixExpression          = "PostfixExpression"
	LabelTernaryExpression          = "TernaryExpression"
	LabelAssignmentExpression       = "AssignmentExpression"
	LabelCastExpression             = "CastExpression"
	LabelMethodCallExpression       = "MethodCallExpression"
	LabelNewObjectExpression        = "NewObjectExpression"
	LabelNewListLiteralExpression   = "NewListLiteralExpression"
	LabelNewSetLiteralExpression    = "NewSetLiteralExpression"
	LabelNewMapLiteralExpression    = "NewMapLiteralExpression"
	LabelSoqlExpression             = "SoqlExpression"
	LabelThisMethodCallExpression   = "ThisMethodCallExpression"
	LabelSuperMethodCallExpression  = "SuperMethodCallExpression"
)

// Property keys.
const (
	PropName           = "Name"
	PropDefiningType   = "DefiningType"
	PropSuperClassName = "SuperClassName"
	PropInterfaceNames = "InterfaceNames"
	PropType           = "Type"
	PropReturnType     = "ReturnType"
	PropStatic         = "Static"
	PropConstructor    = "Constructor"
	PropArity          = "Arity"
	PropMethodName     = "MethodName"
	PropNames          = "Names"
	PropOperator       = "Operator"
	PropLiteralType    = "LiteralType"
	PropValue          = "Value"
	PropQuery          = "Query"
	PropVariableName   = "VariableName"
	PropBeginLine      = "BeginLine"
	PropFileName       = "FileName"
)

// Literal types carried in PropLiteralType.
const (
	LiteralString  = "STRING"
	LiteralInteger = "INTEGER"
	LiteralLong    = "LONG"
	LiteralDecimal = "DECIMAL"
	LiteralDouble  = "DOUBLE"
	LiteralTrue    = "TRUE"
	LiteralFalse   = "FALSE"
	LiteralNull    = "NULL"
)

// IsDMLLabel reports whether label is a DML statement.
func IsDMLLabel(label string) bool {
	switch label {
	case LabelDmlInsertStatement, LabelDmlUpdateStatement, LabelDmlDeleteStatement, LabelDmlUpsertStatement:
		return true
	}
	return false
}

// IsInvocableLabel reports whether label is a call site.
func IsInvocableLabel(label string) bool {
	switch label {
	case LabelMethodCallExpression, LabelNewObjectExpression,
		LabelThisMethodCallExpression, LabelSuperMethodCallExpression:
		return true
	}
	return false
}
